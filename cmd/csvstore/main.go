package main

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainexport/csvstore/config"
	"github.com/chainexport/csvstore/loggers"
	"github.com/chainexport/csvstore/version"
)

import (
	// Registers the storage backends selected by destination scheme.
	_ "github.com/chainexport/csvstore/storage/all"
)

var (
	logger *log.Logger
)

// init() function for main package
func init() {
	// Commands replace this with a configured logger once the data directory
	// is known.
	logger = log.New()
	formatter := loggers.MakeComponentLogFormatter(loggers.TypeMain, "main")
	logger.SetFormatter(&formatter)
	logger.SetOutput(os.Stdout)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
}

// makeRootCmd creates the main cobra command and its subcommands.
func makeRootCmd() *cobra.Command {
	var doVersion bool
	rootCmd := &cobra.Command{
		Use:   "csvstore",
		Short: "export chain rows into CSV chunks",
		Long: `csvstore buffers rows produced per block height and writes them as CSV
chunks to a local directory or an S3 bucket. A status record holds the last
height written so an interrupted export resumes where it stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if doVersion {
				fmt.Fprintln(cmd.OutOrStdout(), version.LongVersion())
				return nil
			}
			return cmd.Help()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().BoolVarP(&doVersion, "version", "v", false, "print version and exit")

	rootCmd.AddCommand(makeInitCmd())
	rootCmd.AddCommand(makeRunCmd())
	rootCmd.AddCommand(makeStatusCmd())
	rootCmd.AddCommand(makeVersionCmd())
	return rootCmd
}

func makeVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.LongVersion())
		},
	}
}

func main() {
	if err := makeRootCmd().Execute(); err != nil {
		logger.WithError(err).Error("an error occurred running csvstore")
		os.Exit(1)
	}

	os.Exit(0)
}
