package main

import (
	"fmt"
	"os"

	"github.com/clementpoiret/bibli-ls/internal/server"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		logfile string
		verbose int
	)

	rootCmd := &cobra.Command{
		Use:   "bibli-ls",
		Short: "Language server completing citations from BibTeX and Hayagriva libraries",
		Long: `bibli-ls completes, resolves and checks citation keys in Markdown,
LaTeX and Typst documents. Without a subcommand it serves the Language
Server Protocol on stdin and stdout.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var path *string
			if logfile != "" {
				path = &logfile
			}
			commonlog.Configure(1+verbose, path)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ls, err := server.NewServer(Version)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return ls.RunStdio()
		},
	}
	rootCmd.PersistentFlags().StringVar(&logfile, "logfile", "", "Path to log file (default: stderr)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "Increase log verbosity")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of the program",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bibli-ls version %s\n", Version)
		},
	}

	rootCmd.AddCommand(newDumpCommand(), versionCmd)
	return rootCmd
}
