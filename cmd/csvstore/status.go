package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chainexport/csvstore/config"
)

// runStatus prints the committed height. Rows above it are imported by the
// next run.
func runStatus(ctx context.Context, dataDir string, out io.Writer) error {
	cfg, err := loadConfig(dataDir, "", "", "")
	if err != nil {
		return err
	}
	// Only the height goes to out so scripts can read it.
	root, err := makeLogger(cfg, io.Discard)
	if err != nil {
		return err
	}
	db, height, err := openDatabase(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintf(out, "%d\n", height)
	return nil
}

func makeStatusCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the committed height",
		Long: `Prints the last height written to the destination, -1 when nothing was
written yet. A new status record is created when none exists.`,
		Example: "csvstore status -d /path/to/data",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.BindFlagSet(cmd.Flags())
			return runStatus(cmd.Context(), dataDir, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "data directory holding csvstore.yml")

	return cmd
}
