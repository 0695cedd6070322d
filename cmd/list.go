package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/docprobe/internal/fixture"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List fixtures with their sizes and verification codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store := fixture.NewStore(cfg.Fixtures.Dir)
			present, err := store.Classes()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Fixtures in %s:\n", store.Root())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLASS\tSIZE\tENCODED\tCODE\tFINGERPRINT\tPURPOSE")
			for _, class := range present {
				fmt.Fprintln(tw, listRow(store, class))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if missing := missingClasses(cfg.Fixtures.Classes, present); len(missing) > 0 {
				fmt.Fprintf(out, "\nConfigured but missing: %s\n", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func listRow(store *fixture.Store, class fixture.SizeClass) string {
	size, err := store.FileSize(class)
	if err != nil {
		return fmt.Sprintf("%s\t-\t-\t-\t-\t%v", class, err)
	}
	code, purpose := "-", ""
	meta, err := store.ReadMetadata(class)
	switch {
	case err == nil:
		code, purpose = meta.VerificationCode, meta.Purpose
	case errors.Is(err, fixture.ErrMetadataNotFound):
		purpose = "(no metadata)"
	default:
		purpose = "(bad metadata)"
	}
	fp, err := store.Fingerprint(class)
	if err != nil {
		fp = "-"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
		class, fixture.FormatSize(size), fixture.FormatSize(fixture.EncodedSize(size)), code, fp, purpose)
}

func missingClasses(configured []string, present []fixture.SizeClass) []string {
	have := make(map[string]bool, len(present))
	for _, c := range present {
		have[string(c)] = true
	}
	var missing []string
	for _, c := range configured {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
