package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/clementpoiret/bibli-ls/internal/config"
	"github.com/clementpoiret/bibli-ls/internal/index"
	"github.com/clementpoiret/bibli-ls/internal/library"
	"github.com/clementpoiret/bibli-ls/internal/resolver"
	"github.com/clementpoiret/bibli-ls/internal/scanner"
	"github.com/clementpoiret/bibli-ls/internal/scheduler"
	"github.com/spf13/cobra"
)

func newDumpCommand() *cobra.Command {
	dumpCmd := &cobra.Command{
		Use:   "dump [root]",
		Short: "Print every indexed entry of a workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDump,
	}
	dumpCmd.Flags().String("config", "", "JSON configuration file")
	dumpCmd.Flags().String("format", "jsonl", "Output format: jsonl|hayagriva|bibtex")
	dumpCmd.Flags().StringP("output", "o", "", "Write a bibliography file instead of printing, in the dialect of its extension")
	dumpCmd.Flags().Bool("append", false, "Append to the output file instead of replacing it")
	return dumpCmd
}

func runDump(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	appendOutput, _ := cmd.Flags().GetBool("append")
	switch format {
	case "jsonl", "hayagriva", "bibtex":
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if output != "" && !bibliography.Supported(output) {
		return fmt.Errorf("%s is not a bibliography file", output)
	}

	cfg := config.Default()
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if cfg, err = config.LoadFromJSON(f); err != nil {
			return fmt.Errorf("failed to read %s: %w", configPath, err)
		}
	}
	root := cfg.Root
	if len(args) == 1 {
		root = args[0]
	}
	workspace, err := resolver.New(root)
	if err != nil {
		return err
	}
	if configPath == "" {
		cfg, err = cfg.LoadFile(filepath.Join(workspace.Root(), config.FileName))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	paths := scanner.FindBibfiles(workspace.Root())
	if len(cfg.Bibfiles) > 0 {
		paths = paths[:0]
		for _, p := range cfg.Bibfiles {
			paths = append(paths, workspace.Resolve(p))
		}
	}

	sched := scheduler.NewScheduler(16)
	sched.RunScheduler()
	defer sched.StopScheduler()

	idx := index.New()
	defer idx.Close()
	loader := library.New(idx, sched, nil, func(message string) {
		fmt.Fprintln(cmd.ErrOrStderr(), message)
	})
	if err := loader.LoadAll(context.Background(), paths); err != nil {
		return err
	}

	records := idx.Snapshot().All()
	out := cmd.OutOrStdout()
	if output != "" {
		bib := bibliography.NewBibliography(output)
		write := bib.Override
		if appendOutput {
			write = bib.Append
		}
		if err := write(records); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %d entries to %s\n", len(records), workspace.Rel(output))
		return nil
	}
	switch format {
	case "hayagriva":
		return bibliography.WriteHayagriva(out, records)
	case "bibtex":
		return bibliography.WriteBibTeX(out, records)
	}
	encoder := json.NewEncoder(out)
	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
