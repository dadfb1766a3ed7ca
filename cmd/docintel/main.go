// Package main is the entry point for the docintel binary.
// It runs trade documents through extraction, compliance and classification
// from the command line, or serves the pipeline's status over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-docintel/internal/export"
	"github.com/polisai/polis-docintel/internal/pipeline"
	"github.com/polisai/polis-docintel/pkg/config"
	"github.com/polisai/polis-docintel/pkg/domain"
	"github.com/polisai/polis-docintel/pkg/logging"
	"github.com/polisai/polis-docintel/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "docintel",
		Short: "Trade-document intelligence pipeline",
		Long: `Extracts structured data from invoices and bills of entry, checks them
for compliance and suggests tariff codes. Every stage degrades to a
synthesized result when no AI provider can answer, so a run always completes.

Example:
  docintel process --doc-type invoice --classify ./invoice.pdf`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVarP(&flags.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "Human readable logs")

	rootCmd.AddCommand(
		newProcessCmd(flags),
		newClassifyCmd(flags),
		newProvidersCmd(flags),
		newExportCmd(flags),
		newServeCmd(flags),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies CLI overrides.
func loadConfig(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.pretty {
		cfg.Logging.Pretty = true
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withApp loads configuration, wires the app, and tears it down after fn.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newProcessCmd(flags *globalFlags) *cobra.Command {
	var (
		mediaType string
		docType   string
		classify  bool
		product   string
	)
	cmd := &cobra.Command{
		Use:   "process <ref>...",
		Short: "Run documents through the pipeline and print the runs as JSON",
		Long: `A reference is a local path, a file:// URL, a gs://bucket/object URI or a
data: URI. Several references are processed concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				reqs := make([]pipeline.Request, len(args))
				for i, ref := range args {
					reqs[i] = pipeline.Request{
						DocumentRef:        ref,
						MediaType:          domain.MediaType(mediaType),
						DocumentType:       docType,
						Classify:           classify || product != "",
						ProductDescription: product,
					}
				}
				if len(reqs) == 1 {
					run, err := a.orch.Process(ctx, reqs[0])
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), run)
				}
				items := a.orch.ProcessBatch(ctx, reqs)
				return writeJSON(cmd.OutOrStdout(), batchOutput(args, items))
			})
		},
	}
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Declared media type; sniffed from content when empty")
	cmd.Flags().StringVarP(&docType, "doc-type", "t", string(domain.DocumentGeneral), "Document type (invoice, billOfEntry, general)")
	cmd.Flags().BoolVar(&classify, "classify", false, "Suggest tariff codes for the goods")
	cmd.Flags().StringVar(&product, "product", "", "Product description to classify; defaults to the first line item")
	return cmd
}

type batchResult struct {
	Ref   string              `json:"ref"`
	Run   *domain.PipelineRun `json:"run,omitempty"`
	Error string              `json:"error,omitempty"`
}

func batchOutput(refs []string, items []pipeline.BatchItem) []batchResult {
	out := make([]batchResult, len(items))
	for i, it := range items {
		out[i].Ref = refs[it.Index]
		if it.Err != nil {
			out[i].Error = it.Err.Error()
			continue
		}
		run := it.Run
		out[i].Run = &run
	}
	return out
}

func newClassifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <description>",
		Short: "Suggest tariff codes for a product description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				res, err := a.orch.Classify(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newProvidersCmd(flags *globalFlags) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show provider availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if probe {
					a.registry.ProbeAll(ctx, a.prober())
				}
				return writeProviderTable(cmd.OutOrStdout(), a.registry.Snapshot())
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Probe configured providers before reporting")
	return cmd
}

func writeProviderTable(w io.Writer, statuses []domain.ProviderStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tCONFIGURED\tAVAILABLE\tLAST ERROR\tRETRY AFTER")
	for _, s := range statuses {
		retry := "-"
		if s.RetryAfter != nil {
			retry = s.RetryAfter.UTC().Format(time.RFC3339)
		}
		kind := string(s.LastKnownErrorKind)
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\t%s\n", s.ProviderID, s.Configured, s.Available, kind, retry)
	}
	return tw.Flush()
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		out   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored runs to an XLSX workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return fmt.Errorf("storage driver %q keeps no runs", a.cfg.Storage.Driver)
				}
				runs, err := a.store.List(ctx, limit)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := export.WriteRunsXLSX(f, runs); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				a.logger.Info("export.xlsx.ok", "path", out, "runs", len(runs))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "runs.xlsx", "Output workbook path")
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum number of runs, newest first")
	return cmd
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP with health, metrics and run lookup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if addr != "" {
					a.cfg.Server.Address = addr
				}
				stopBackground, err := a.startBackground(ctx, flags.configPath)
				if err != nil {
					return err
				}
				defer stopBackground()
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.address)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
