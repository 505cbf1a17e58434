package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chainexport/csvstore/config"
	"github.com/chainexport/csvstore/util"
)

var defaultDataDirectory = "data"

func runInit(path string, out io.Writer) error {
	var location string
	if path == "" {
		path = defaultDataDirectory
		location = "in the current working directory"
	} else {
		location = fmt.Sprintf("at '%s'", path)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("runInit(): %w", err)
	}

	configFilePath := filepath.Join(path, config.DefaultConfigName)
	if util.FileExists(configFilePath) {
		return fmt.Errorf("runInit(): %s already exists", configFilePath)
	}
	if err := os.WriteFile(configFilePath, []byte(config.SampleConfig), 0644); err != nil {
		return fmt.Errorf("runInit(): failed to write sample config: %w", err)
	}

	fmt.Fprintf(out, "A data directory has been created %s.\n", location)
	fmt.Fprintf(out, "\nBefore it can be used, the tables section of %s needs to\n", config.DefaultConfigName)
	fmt.Fprintf(out, "describe the rows you export, and destination must point at the\n")
	fmt.Fprintf(out, "directory or bucket receiving the chunks.\n")
	fmt.Fprintf(out, "\nOnce the config file is updated, start the export with:\n")
	fmt.Fprintf(out, "  ./csvstore run -d %s -i rows.jsonl\n", path)
	return nil
}

// makeInitCmd creates a sample data directory.
func makeInitCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "initializes a csvstore data directory",
		Long: `Initializes a csvstore data directory and csvstore.yml file. The sample
config writes to a local "output" directory below the data directory and
registers two example tables.

Once initialized the csvstore.yml file needs to be modified. Refer to the file
comments for details.`,
		Example: "csvstore init -d /path/to/data",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(data, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&data, "data-dir", "d", "", "Full path to new data directory. If not set, a directory named 'data' will be created in the current directory.")

	return cmd
}
