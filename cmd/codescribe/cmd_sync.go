package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"codescribe/internal/logging"
	"codescribe/internal/merge"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Incrementally re-analyze only the files that changed",
	Long: "Diffs the source tree against the last committed manifest, re-runs only\n" +
		"the stages the changed files feed, and splices the fresh facts into the\n" +
		"stored aggregate. Falls back to a full run when a dependency-declaration\n" +
		"file (package.json, go.mod, ...) changed.",
	RunE: runSync,
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := openApp(rootFlags.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.newEngine(progressRing())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	res, err := engine.Sync(cmd.Context(), a.project.ID, uuid.NewString())
	var nfr *merge.NeedsFullRunError
	if errors.As(err, &nfr) {
		logging.New("sync").Warn("falling back to full analysis", "reason", nfr.Reason)
		runner, rerr := a.newRunner(progressRing())
		if rerr != nil {
			return rerr
		}
		full, rerr := runner.RunFull(cmd.Context(), a.project.ID, uuid.NewString())
		if rerr != nil {
			return fmt.Errorf("sync: %w", rerr)
		}
		fmt.Fprintf(out, "Full re-analysis (%s): %d files, risk %.1f\n", nfr.Reason, full.Files, full.RiskScore)
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if res.NoChanges {
		fmt.Fprintln(out, "No changes.")
		return nil
	}
	fmt.Fprintf(out, "Synced in %s: %d added, %d modified, %d removed\n",
		res.Duration.Round(time.Millisecond), res.Added, res.Modified, res.Removed)
	if len(res.StagesRun) > 0 {
		fmt.Fprintf(out, "Stages: %v\n", res.StagesRun)
	}
	fmt.Fprintf(out, "Risk score: %.1f\n", res.RiskScore)
	return nil
}
