package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
	"github.com/MikeSquared-Agency/Crucible/internal/config"
	"github.com/MikeSquared-Agency/Crucible/internal/planner"
	"github.com/MikeSquared-Agency/Crucible/internal/report"
	"github.com/MikeSquared-Agency/Crucible/internal/store"
)

var (
	solveCatalogDir  string
	solveSheet       string
	solveChannel     string
	solveCSV         string
	solveChart       string
	solveInstruction bool
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a sheet offline against CSV catalog tables",
	Long: `Solve every channel of a YAML sheet against the catalog tables in a
directory: materials.csv, additives.csv, one
Calibration_upper_limit_<INSTRUMENT>.csv per analyser and optionally
blending_ratio.csv. Nothing is persisted and no events are published.

Examples:
  # Print the report for every channel
  crucible solve --catalog-dir ./tables --sheet trial.yaml

  # One channel, with the spreadsheet export and a chart
  crucible solve --catalog-dir ./tables --sheet trial.yaml --channel Ch2 \
      --csv ch2.csv --chart ch2.png

  # Charging instructions for the floor
  crucible solve --catalog-dir ./tables --sheet trial.yaml --instruction`,
	RunE: runSolve,
}

func init() {
	rootCmd.AddCommand(solveCmd)

	solveCmd.Flags().StringVar(&solveCatalogDir, "catalog-dir", "", "directory holding the catalog CSV files [required]")
	solveCmd.Flags().StringVar(&solveSheet, "sheet", "", "YAML sheet to solve [required]")
	solveCmd.Flags().StringVar(&solveChannel, "channel", "", "solve only this channel")
	solveCmd.Flags().StringVar(&solveCSV, "csv", "", "write the report CSV here (one channel only)")
	solveCmd.Flags().StringVar(&solveChart, "chart", "", "write a dosing chart here; the extension picks the format (one channel only)")
	solveCmd.Flags().BoolVar(&solveInstruction, "instruction", false, "print the charging instruction sheet instead of the report")

	solveCmd.MarkFlagRequired("catalog-dir")
	solveCmd.MarkFlagRequired("sheet")
}

func readSheet(path string) (*store.Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	var sheet store.Sheet
	if err := yaml.Unmarshal(data, &sheet); err != nil {
		return nil, fmt.Errorf("parse sheet: %w", err)
	}
	if sheet.Name == "" {
		sheet.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &sheet, nil
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

	cat, err := catalog.LoadDir(solveCatalogDir)
	if err != nil {
		return err
	}
	sheet, err := readSheet(solveSheet)
	if err != nil {
		return err
	}
	if err := sheet.Validate(cfg.Planner.Channels); err != nil {
		return err
	}
	if solveChannel != "" {
		ch, ok := sheet.Channel(solveChannel)
		if !ok {
			return fmt.Errorf("sheet %s has no channel %q", sheet.Name, solveChannel)
		}
		sheet.Channels = []store.ChannelInput{ch}
	}
	if (solveCSV != "" || solveChart != "") && len(sheet.Channels) != 1 {
		return fmt.Errorf("--csv and --chart need a single channel, use --channel")
	}

	p := planner.New(nil, nil, nil, nil, cfg, logger)
	p.SetCatalog(cat)
	plan, err := p.Plan(context.Background(), sheet)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if solveInstruction {
		var sheets []report.Instruction
		for _, o := range plan.Solved() {
			if !report.Instructable(*o.Result) {
				continue
			}
			sheets = append(sheets, report.BuildInstruction(o.Channel, *o.Result, cfg.Report.InstructionMultiplier))
		}
		return report.WriteInstructions(out, sheet.Name, sheets)
	}

	for _, o := range plan.Outcomes {
		if o.Skipped {
			fmt.Fprintf(out, "%s: skipped (%s)\n\n", o.Channel, o.Reason)
			continue
		}
		if err := report.WriteText(out, sheet.Name+" "+o.Channel, *o.Report); err != nil {
			return err
		}
	}

	solved := plan.Solved()
	if len(solved) == 0 {
		return nil
	}
	if solveCSV != "" {
		if err := writeFile(solveCSV, func(w io.Writer) error { return report.WriteCSV(w, *solved[0].Report) }); err != nil {
			return err
		}
	}
	if solveChart != "" {
		format := strings.TrimPrefix(filepath.Ext(solveChart), ".")
		if format == "" {
			format = "png"
		}
		title := sheet.Name + " " + solved[0].Channel
		if err := writeFile(solveChart, func(w io.Writer) error { return report.WriteChart(w, title, *solved[0].Report, format) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}
