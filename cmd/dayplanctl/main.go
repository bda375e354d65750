// Package main implements dayplanctl, an offline CLI for the planner's
// classification, validation and conflict checks.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/dayplan/internal/classify"
	"github.com/ashureev/dayplan/internal/conflict"
	"github.com/ashureev/dayplan/internal/domain"
	"github.com/ashureev/dayplan/internal/validate"
)

var version = "dev"

// errInvalidSchedule makes validate exit non-zero without printing usage.
var errInvalidSchedule = errors.New("schedule failed validation")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dayplanctl",
		Short: "Offline checks for day plans",
		Long: `dayplanctl runs the planner's guardrails without a server.

It classifies task titles, validates proposed schedule actions and lists
overlapping calendar events with a suggested resolution.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newClassifyCmd(), newValidateCmd(), newConflictsCmd())
	return root
}

func newClassifyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify <title>",
		Short: "Show the category and time windows for a task title",
		Long: `Classify a task title the way the planner does before prompting.

Examples:
  dayplanctl classify "Lunch with Sam"
  dayplanctl classify --json "Morning run"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			if title == "" {
				return errors.New("title is required")
			}
			c := classify.Classify(title)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{
					"title":          title,
					"classification": c,
					"constraint":     classify.DescribeConstraint(c),
				})
			}
			fmt.Fprintf(out, "Title:      %s\n", title)
			fmt.Fprintf(out, "Category:   %s\n", c.Category)
			if c.Subtype != "" {
				fmt.Fprintf(out, "Subtype:    %s\n", c.Subtype)
			}
			fmt.Fprintf(out, "Duration:   %d min\n", c.DurationMinutes)
			fmt.Fprintf(out, "Strength:   %s\n", c.Strength)
			for _, w := range c.Windows {
				fmt.Fprintf(out, "Window:     %s\n", w)
			}
			fmt.Fprintf(out, "Constraint: %s\n", classify.DescribeConstraint(c))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var file, tz string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check proposed schedule actions against the guardrails",
		Long: `Validate a JSON list of schedule actions, or a plan object with an
"actions" field. Hours are read in --tz. Exits non-zero when any action
breaks a hard rule.

Examples:
  dayplanctl validate --file actions.json
  cat plan.json | dayplanctl validate --file - --tz Asia/Seoul`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("unknown timezone %q: %w", tz, err)
			}
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			actions, err := decodeActions(raw)
			if err != nil {
				return err
			}
			res := validate.New(loc).Validate(actions)
			fmt.Fprintln(cmd.OutOrStdout(), validate.Report(res))
			if !res.Valid {
				return errInvalidSchedule
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "actions file, or - for stdin")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone used to read hours")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newConflictsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List overlapping events and suggested resolutions",
		Long: `Read a JSON list of calendar events and report every overlapping pair of
timed events with the resolution the planner would suggest.

Examples:
  dayplanctl conflicts --file events.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var events []domain.CalendarEvent
			if err := json.Unmarshal(raw, &events); err != nil {
				return fmt.Errorf("decode events: %w", err)
			}

			out := cmd.OutOrStdout()
			found := conflict.Detect(events)
			if len(found) == 0 {
				fmt.Fprintln(out, "No conflicts")
				return nil
			}
			fmt.Fprintf(out, "%d conflict(s)\n", len(found))
			for _, c := range found {
				r := conflict.Suggest(c, nil, events)
				fmt.Fprintf(out, "- %s (%s) overlaps %s (%s) by %d min\n",
					c.Event1.Title, c.Event1.Start, c.Event2.Title, c.Event2.Start, c.OverlapMinutes)
				fmt.Fprintf(out, "  suggestion: %s: %s\n", r.Strategy, r.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "events file, or - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return raw, nil
}

// decodeActions accepts a bare action list or a plan object.
func decodeActions(raw []byte) ([]domain.ScheduleAction, error) {
	var actions []domain.ScheduleAction
	if err := json.Unmarshal(raw, &actions); err == nil {
		return actions, nil
	}
	var plan domain.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return plan.Actions, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
