package cli

import (
	"fmt"
	"os"

	"codex/api/internal/config"
	"codex/api/internal/export"
	"codex/api/internal/store"
	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var (
		entryType string
		format    string
		output    string
		archive   bool
	)
	command := &cobra.Command{
		Use:   "export",
		Short: "Export a glossary as CSV or PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := export.Request{
				Type:    store.EntryType(entryType),
				Format:  export.Format(format),
				Archive: archive,
			}
			if req.Type != "" && !req.Type.Valid() {
				return fmt.Errorf("--type must be exicon or lexicon")
			}

			cfg := config.Load()
			log := newLogger(cfg)
			rt, err := openRuntime(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.service.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			if output == "" {
				output = result.Filename
			}
			if err := os.WriteFile(output, result.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(result.Data))
			if result.ArchiveKey != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "archived as %s\n", result.ArchiveKey)
			}
			return nil
		},
	}
	command.Flags().StringVarP(&entryType, "type", "t", "", "exicon or lexicon; empty exports both")
	command.Flags().StringVarP(&format, "format", "f", "csv", "csv or pdf")
	command.Flags().StringVarP(&output, "output", "o", "", "output file; defaults to the export's filename")
	command.Flags().BoolVar(&archive, "archive", false, "also upload to the export bucket")
	return command
}
