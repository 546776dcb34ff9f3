package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/snapflowio/mongocdc"
	"github.com/snapflowio/mongocdc/checkpoint"
	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/logger"
	"github.com/snapflowio/mongocdc/publisher"
	"github.com/snapflowio/mongocdc/telemetry"
	"github.com/snapflowio/mongocdc/transform"
)

func runCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "tail the oplog and publish envelopes to the configured sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), path)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "mongocdc.toml", "path to the TOML config file")
	return cmd
}

func checkCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "validate the config file and compile the transform script",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, cfg, err := load(path)
			if err != nil {
				return err
			}
			unit, err := transform.JavaScript{}.Compile(cfg.Script())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s -> %s sink (projection %v)\n", cfg.Namespace(), file.Sink.Type, unit.Projection)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "mongocdc.toml", "path to the TOML config file")
	return cmd
}

func load(path string) (*config.File, *config.Config, error) {
	file, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := file.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}
	cfg, err := file.ConnectorConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}
	return file, cfg, nil
}

func run(ctx context.Context, path string) error {
	file, cfg, err := load(path)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Logger.LogLevel)
	telemetry.Initialize(cfg.InstanceID)

	store, err := checkpoint.Open(ctx, file.Store)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	snk, err := publisher.NewSink(file.Sink, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	defer snk.Close()

	worker, err := publisher.NewWorker(publisher.WorkerConfigFrom(file.Sink, snk, store))
	if err != nil {
		return err
	}

	conn, err := mongocdc.NewConnector(*cfg, mongocdc.WithStore(store))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return conn.Start(gctx)
	})

	// The worker runs until the connector closes its events channel so that
	// everything emitted before shutdown is still published.
	g.Go(func() error {
		err := worker.Run(context.Background(), conn.Events())
		if err != nil {
			conn.Close()
		}
		return err
	})

	if file.Admin.Addr != "" {
		srv := &http.Server{
			Addr:              file.Admin.Addr,
			Handler:           adminRouter(conn),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reload(path, conn)
			}
		}
	})

	return g.Wait()
}

// reload re-reads the config file and applies the [connector] section. A
// bad file leaves the running connector untouched.
func reload(path string, conn mongocdc.Connector) {
	logger.Info("reloading configuration", "path", path)
	_, cfg, err := load(path)
	if err != nil {
		logger.Error("reload failed", "error", err)
		return
	}
	if err := conn.Update(cfg); err != nil {
		logger.Error("reload failed", "error", err)
		return
	}
	logger.SetLevel(cfg.Logger.LogLevel)
	logger.Info("configuration reloaded", "namespace", cfg.Namespace())
}
