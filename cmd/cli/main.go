// Command wca analyzes web pages from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"web-content-analyzer/internal/config"
	"web-content-analyzer/internal/ioformats"
	"web-content-analyzer/internal/metrics"
	"web-content-analyzer/internal/models"
	"web-content-analyzer/internal/pipeline"
	"web-content-analyzer/internal/sanitizer"
	"web-content-analyzer/pkg/logger"
)

const (
	Version = "0.1.0"
	appName = "wca"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalOpts struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	g := &globalOpts{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Fetch, extract and analyze web pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML, defaults to $WCA_CONFIG)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		analyzeCmd(g),
		extractCmd(g),
		batchCmd(g),
		sanitizeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

func (g *globalOpts) setup(cmd *cobra.Command) (*pipeline.Service, config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	l := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
	svc, err := pipeline.Build(cfg, metrics.New(), l)
	if err != nil {
		return nil, config.Config{}, err
	}
	return svc, cfg, nil
}

// reportWriters renders a single report in each supported analyze format.
var reportWriters = map[string]func(io.Writer, *models.Report) error{
	"json": func(w io.Writer, r *models.Report) error { return writeIndented(w, r) },
	"csv":  func(w io.Writer, r *models.Report) error { return ioformats.WriteReportCSV(w, []*models.Report{r}) },
	"pdf":  ioformats.WriteReportPDF,
}

func analyzeCmd(g *globalOpts) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "analyze URL",
		Short: "Build the full analysis report for one page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			write, ok := reportWriters[format]
			if !ok {
				return fmt.Errorf("unknown format %q (json, csv or pdf)", format)
			}
			svc, _, err := g.setup(cmd)
			if err != nil {
				return err
			}
			report, err := svc.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return withOutput(cmd, output, func(w io.Writer) error { return write(w, report) })
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, csv, pdf)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func extractCmd(g *globalOpts) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "extract URL",
		Short: "Print the normalized document of one page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.setup(cmd)
			if err != nil {
				return err
			}
			doc, err := svc.Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return withOutput(cmd, output, func(w io.Writer) error { return writeIndented(w, doc) })
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func batchCmd(g *globalOpts) *cobra.Command {
	var (
		input, output string
		concurrency   int
		perSecond     float64
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyze every URL of a CSV ('url' column) or NDJSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return fmt.Errorf("missing --input")
			}
			urls, err := ioformats.ReadURLs(input)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			svc, cfg, err := g.setup(cmd)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = cfg.Batch.Concurrency
			}
			var limiter *rate.Limiter
			if perSecond > 0 {
				limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
			}

			start := time.Now()
			items := svc.AnalyzeBatchPaced(cmd.Context(), urls, concurrency, limiter)
			failed := 0
			for _, it := range items {
				if it.Error != "" {
					failed++
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d urls, %d failed, %s\n", len(items), failed, time.Since(start).Round(time.Millisecond))

			return withOutput(cmd, output, func(w io.Writer) error { return ioformats.WriteNDJSON(w, items) })
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input file (csv with 'url' column or ndjson)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output NDJSON file (default stdout)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Worker concurrency (default from config)")
	cmd.Flags().Float64Var(&perSecond, "rate", 0, "Maximum pages started per second (0 = unlimited)")
	return cmd
}

func sanitizeCmd() *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "sanitize [FILE]",
		Short: "Strip HTML from FILE (or stdin) down to safe formatting tags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			san := sanitizer.New()
			if !markdown {
				_, err := io.WriteString(cmd.OutOrStdout(), san.SanitizeReader(in)+"\n")
				return err
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			md, err := san.Markdown(string(raw))
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), md+"\n")
			return err
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Render the sanitized HTML as Markdown")
	return cmd
}

func withOutput(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
