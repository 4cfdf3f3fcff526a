package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/layersync/internal/app/viewer"
	"github.com/mohammed-shakir/layersync/internal/core/config"
	"github.com/mohammed-shakir/layersync/internal/core/health"
	"github.com/mohammed-shakir/layersync/internal/core/server"
	"github.com/mohammed-shakir/layersync/internal/layers"
	"github.com/mohammed-shakir/layersync/internal/logger"
	"github.com/mohammed-shakir/layersync/internal/metrics"
)

var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "viewer",
		Short:         "Map viewer session engine for the railway asset backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), layersCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the viewer session and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ADDR)")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "viewer",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p, err := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := viewer.New(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer v.Close()

	opts := server.Options{Metrics: p.Handler()}
	if c := v.ChangeConsumer(); c != nil {
		opts.Checks = append(opts.Checks, health.ReporterCheck("changes", c))
	}

	appLog.Info("starting viewer",
		"addr", cfg.Addr,
		"version", Version,
		"backend", cfg.BackendURL,
		"invalidation", cfg.Invalidation.Enabled)

	errCh := make(chan error, 1)
	go func() { errCh <- v.Run(ctx) }()

	if err := server.Run(ctx, cfg.Addr, server.Routes(v, appLog, opts), appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		stop()
		<-errCh
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}
	appLog.Info("viewer stopped")
	return nil
}

type catalogEntry struct {
	ID            string   `json:"id" yaml:"id"`
	Title         string   `json:"title" yaml:"title"`
	Endpoint      string   `json:"endpoint" yaml:"endpoint"`
	Shape         string   `json:"shape" yaml:"shape"`
	Keying        string   `json:"keying" yaml:"keying"`
	MinRenderZoom int      `json:"minRenderZoom,omitempty" yaml:"minRenderZoom,omitempty"`
	Visible       bool     `json:"visible" yaml:"visible"`
	Interactive   bool     `json:"interactive,omitempty" yaml:"interactive,omitempty"`
	Filters       []string `json:"filters,omitempty" yaml:"filters,omitempty"`
	TableKey      string   `json:"tableKey,omitempty" yaml:"tableKey,omitempty"`
}

func layersCmd() *cobra.Command {
	var (
		file   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "layers",
		Short: "Print the resolved layer catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs := layers.DefaultCatalog()
			if file == "" {
				file = os.Getenv("LAYER_CATALOG")
			}
			if file != "" {
				var err error
				if specs, err = layers.LoadCatalog(file, specs); err != nil {
					return err
				}
			}
			out := make([]catalogEntry, 0, len(specs))
			for _, s := range specs {
				out = append(out, catalogEntry{
					ID:            s.ID,
					Title:         s.Title,
					Endpoint:      s.Endpoint,
					Shape:         s.Shape.String(),
					Keying:        s.Keying.String(),
					MinRenderZoom: s.MinRenderZoom,
					Visible:       s.Visible == nil || *s.Visible,
					Interactive:   s.Interactive,
					Filters:       s.Filters,
					TableKey:      s.TableKey,
				})
			}

			var (
				b   []byte
				err error
			)
			if asJSON {
				b, err = json.MarshalIndent(out, "", "  ")
			} else {
				b, err = yaml.Marshal(out)
			}
			if err != nil {
				return fmt.Errorf("marshal catalog: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog override file (defaults to LAYER_CATALOG)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}
