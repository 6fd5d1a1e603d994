package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"codescribe/internal/format"
	"codescribe/internal/store"
)

var sectionsFlags struct {
	key          string
	override     string
	clearStale   bool
	showOverride bool
}

var sectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "List derived documentation sections, or print one",
	Long: "Without --key, lists every section with its commit marker and override\n" +
		"state. With --key, prints that section's content. Use --set-override to\n" +
		"replace what readers see with your own text; the generated content keeps\n" +
		"updating underneath and the override is flagged stale when it does.",
	RunE: runSections,
}

func init() {
	f := sectionsCmd.Flags()
	f.StringVar(&sectionsFlags.key, "key", "", "Section key (overview, architecture, factsReference, schemaDoc, report)")
	f.StringVar(&sectionsFlags.override, "set-override", "", "Path to a file whose content overrides this section")
	f.BoolVar(&sectionsFlags.clearStale, "ack-stale", false, "Acknowledge a stale override: re-save it over the fresh content")
	f.BoolVar(&sectionsFlags.showOverride, "show-override", false, "Print the override content instead of the generated section")
}

func runSections(cmd *cobra.Command, _ []string) error {
	a, err := openApp(rootFlags.configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if sectionsFlags.key == "" {
		return listSections(a, out)
	}
	key := store.SectionKey(sectionsFlags.key)

	if sectionsFlags.override != "" {
		data, err := os.ReadFile(sectionsFlags.override)
		if err != nil {
			return fmt.Errorf("read override file: %w", err)
		}
		if err := a.store.PutOverride(a.project.ID, &store.UserOverride{Key: key, Content: string(data)}); err != nil {
			return fmt.Errorf("save override: %w", err)
		}
		fmt.Fprintf(out, "Override saved for %q\n", key)
		return nil
	}
	if sectionsFlags.clearStale {
		return ackStale(a, key, out)
	}

	sec, err := a.store.GetSection(a.project.ID, key)
	if err != nil {
		return fmt.Errorf("load section: %w", err)
	}
	if sec == nil {
		return fmt.Errorf("no section %q; run 'codescribe analyze' first", key)
	}
	if sectionsFlags.showOverride {
		for _, o := range mustOverrides(a) {
			if o.Key == key {
				fmt.Fprint(out, o.Content)
				return nil
			}
		}
		return fmt.Errorf("no override for %q", key)
	}
	fmt.Fprint(out, sec.Content)
	return nil
}

func listSections(a *app, out io.Writer) error {
	sections, err := a.store.GetSections(a.project.ID)
	if err != nil {
		return fmt.Errorf("load sections: %w", err)
	}
	overrides := mustOverrides(a)
	byKey := make(map[store.SectionKey]store.UserOverride, len(overrides))
	for _, o := range overrides {
		byKey[o.Key] = o
	}

	t := format.NewTable(format.ASCII)
	t.Header("Key", "Bytes", "Commit", "Updated", "Override")
	t.AlignRight(2)
	have := make(map[store.SectionKey]bool, len(sections))
	for _, s := range sections {
		have[s.Key] = true
		state := "-"
		if o, ok := byKey[s.Key]; ok {
			state = "yes"
			if o.Stale {
				state = "STALE"
			}
		}
		t.Row(string(s.Key), len(s.Content), s.CommitMarker, s.UpdatedAt, state)
	}
	for _, k := range store.AllSectionKeys {
		if !have[k] {
			t.Row(string(k), 0, "-", "-", "-")
		}
	}
	fmt.Fprintln(out, t.String())
	return nil
}

// ackStale re-saves the override content, clearing the stale flag until
// the section regenerates again.
func ackStale(a *app, key store.SectionKey, out io.Writer) error {
	for _, o := range mustOverrides(a) {
		if o.Key == key {
			o.Stale = false
			if err := a.store.PutOverride(a.project.ID, &o); err != nil {
				return fmt.Errorf("save override: %w", err)
			}
			fmt.Fprintf(out, "Override for %q re-acknowledged\n", key)
			return nil
		}
	}
	return fmt.Errorf("no override for %q", key)
}

func mustOverrides(a *app) []store.UserOverride {
	overrides, err := a.store.GetOverrides(a.project.ID)
	if err != nil {
		return nil
	}
	return overrides
}
