package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codescribe/internal/format"
)

var statusFlags struct {
	events int
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored analysis state for the configured project",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusFlags.events, "events", 0, "Also show the last N pipeline events")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := openApp(rootFlags.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Project: %s (%s)\n", a.project.Name, a.project.ID)

	manifest, err := a.store.GetManifest(a.project.ID)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if len(manifest) == 0 {
		fmt.Fprintln(out, "No committed analysis yet. Run 'codescribe analyze'.")
		return nil
	}
	fmt.Fprintf(out, "Files:   %d\n", len(manifest))

	agg, err := a.store.GetAggregate(a.project.ID)
	if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}
	if agg != nil {
		t := format.NewTable(format.ASCII)
		t.Header("Kind", "Count")
		t.AlignRight(2)
		t.Row("endpoints", len(agg.Endpoints))
		t.Row("models", len(agg.Models))
		t.Row("relationships", len(agg.Relationships))
		t.Row("components", len(agg.Components))
		t.Row("findings", len(agg.Findings))
		fmt.Fprintln(out, t.String())
		fmt.Fprintf(out, "Risk score: %.1f\n", agg.RiskScore)
	}

	overrides, err := a.store.GetOverrides(a.project.ID)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	for _, o := range overrides {
		if o.Stale {
			fmt.Fprintf(out, "Override on %q is STALE: fresh content was generated since your edit\n", o.Key)
		}
	}

	if statusFlags.events > 0 {
		events, err := a.store.ListEvents(a.project.ID, 0, 0)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		if len(events) > statusFlags.events {
			events = events[len(events)-statusFlags.events:]
		}
		t := format.NewTable(format.ASCII)
		t.Header("Seq", "Stage", "Status", "Message")
		for _, e := range events {
			t.Row(e.Seq, e.Stage, e.Status, e.Message)
		}
		fmt.Fprintln(out, t.String())
	}
	return nil
}
