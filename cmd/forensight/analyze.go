package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/analysis"
	"github.com/forensight/forensight/internal/app"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/runs"
	"github.com/forensight/forensight/internal/workpaper"
)

type analyzeOptions struct {
	workpaperPath string
	outPath       string
	scriptPath    string
	companyHint   string
	noDefense     bool
	noResearch    bool
	rounds        int
	concurrency   int
	retries       int
	full          bool
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Review a workpaper with the reviewer panel and print the verdict",
		Long: `Runs workpaper enrichment, every reviewer role, the defense reviewer and
adjudication synchronously, then prints the verdict as JSON.

Examples:
  forensight analyze --workpaper wp.json
  forensight analyze --workpaper wp.json --no-defense --out verdict.json
  forensight analyze --workpaper wp.json --script responses.json   # offline dry run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.workpaperPath, "workpaper", "w", "", "workpaper JSON file (required)")
	f.StringVarP(&opts.outPath, "out", "o", "", "write the result here instead of stdout")
	f.StringVar(&opts.scriptPath, "script", "", "replay oracle responses from a JSON array instead of calling the LLM")
	f.StringVar(&opts.companyHint, "company", "", "company name to use when the workpaper has none")
	f.BoolVar(&opts.noDefense, "no-defense", false, "skip the defense reviewer")
	f.BoolVar(&opts.noResearch, "no-research", false, "skip reviewer retry rounds")
	f.IntVar(&opts.rounds, "rounds", 0, "workpaper completeness rounds (0 uses config)")
	f.IntVar(&opts.concurrency, "concurrency", 0, "reviewer concurrency (0 uses config)")
	f.IntVar(&opts.retries, "retries", 0, "per-reviewer research round limit (0 uses config)")
	f.BoolVar(&opts.full, "full", false, "print the enriched workpaper and every report, not only the verdict")
	_ = cmd.MarkFlagRequired("workpaper")
	return cmd
}

func runAnalyze(ctx context.Context, root *rootOptions, opts *analyzeOptions, stdout io.Writer) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	wp, err := readWorkpaper(opts.workpaperPath)
	if err != nil {
		return err
	}

	// runs are local to this process
	appOpts := []app.Option{app.WithStore(runs.NewMemoryStore())}
	if opts.scriptPath != "" {
		script, err := readScript(opts.scriptPath)
		if err != nil {
			return err
		}
		appOpts = append(appOpts, app.WithOracle(script))
		logger.Info("Using scripted oracle", zap.String("script", opts.scriptPath), zap.Int("responses", script.Remaining()))
	}
	a, err := app.New(ctx, cfg, logger, appOpts...)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	req := analysis.Request{
		Workpaper: wp,
		Options: analysis.Options{
			WorkpaperMaxRounds: opts.rounds,
			MaxConcurrency:     opts.concurrency,
			AgentMaxRetries:    opts.retries,
			CompanyHint:        opts.companyHint,
		},
	}
	if opts.noDefense {
		off := false
		req.Options.EnableDefense = &off
	}
	if opts.noResearch {
		off := false
		req.Options.EnableResearch = &off
	}

	result, err := a.Runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	var out any = result.FinalReport
	if opts.full {
		out = result
	}
	return writeResult(out, opts.outPath, stdout)
}

func readWorkpaper(path string) (*workpaper.Workpaper, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workpaper: %w", err)
	}
	defer f.Close()
	return workpaper.Decode(f)
}

func readScript(path string) (*oracle.Scripted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return oracle.LoadScript(f)
}

func writeResult(v any, path string, stdout io.Writer) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
