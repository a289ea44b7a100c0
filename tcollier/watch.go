/*
Copyright 2016 Google Inc. All Rights Reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"github.com/borisdali/tracecollier/metrics"
	"github.com/borisdali/tracecollier/miner"
	rttpubsub "github.com/borisdali/tracecollier/pubsub"
	daemon "github.com/borisdali/tracecollier/service"
	"github.com/borisdali/tracecollier/watchdog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	oauth2google "golang.org/x/oauth2/google"
	bqgen "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/option"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		prefix, roster, metricsAddr string
		settle                      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [trace directory]",
		Short: "Mine trace files as they are written",
		Long: `watch mines every trace file of a directory once it has not changed for the
settle period, and remembers what it mined in a roster file. The directory
defaults to trace_dir from the configuration file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.traceDir = args[0]
			}
			if a.cfg.traceDir == "" {
				return errors.New("no trace directory: pass one or set trace_dir")
			}
			return a.serve(cmd.Context(), "tcollier", "TraceCollier watchdog", a.runWatch)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only mine traces whose name starts with this, e.g. orcl_ora_")
	cmd.Flags().StringVar(&roster, "roster", "", "Roster of mined traces")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	cmd.Flags().DurationVar(&settle, "settle", watchdog.DefaultSettle, "Time a trace must stay unchanged before it is mined")
	cmd.Flags().StringVar(&a.serviceAction, "service", "", "Service action: run, start, stop, install, remove")
	return cmd
}

func (a *app) runWatch(ctx context.Context) error {
	out, err := openOutputs(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer out.release()

	col := metrics.NewCollector()
	if a.cfg.metricsAddr != "" {
		srv := &http.Server{Addr: a.cfg.metricsAddr, Handler: metricsMux(col)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	w, err := watchdog.New(watchdog.Config{
		Dir:        a.cfg.traceDir,
		Prefix:     a.cfg.tracePrefix,
		Settle:     a.cfg.settle,
		RosterFile: a.cfg.rosterFile,
		Logger:     a.log,
		Metrics:    col,
	}, func(ctx context.Context, path string) (miner.Stats, error) {
		return a.mineFile(ctx, out, path)
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func metricsMux(col *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", col.Handler())
	return mux
}

func (a *app) dequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue",
		Short: "Move published executions from Pub/Sub into BigQuery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.projectName == "" {
				return errors.New("dequeue needs project_name")
			}
			return a.serve(cmd.Context(), "tcollierDequeue", "TraceCollier dequeue", a.runDequeue)
		},
	}
}

func (a *app) runDequeue(ctx context.Context) error {
	if err := setCredentials(a.cfg); err != nil {
		return err
	}
	httpClient, err := oauth2google.DefaultClient(ctx, bigquery.Scope)
	if err != nil {
		return errors.Wrap(err, "oauth2google.DefaultClient")
	}
	svc, err := bqgen.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return errors.Wrap(err, "bigquery.NewService")
	}
	client, err := pubsub.NewClient(ctx, a.cfg.projectName)
	if err != nil {
		return errors.Wrap(err, "pubsub.NewClient")
	}
	defer client.Close()
	return rttpubsub.Dequeue(ctx, client, &rttpubsub.BigQuery{Service: svc, ProjectName: a.cfg.projectName}, a.log)
}

// serve runs body until interrupted, or hands it to the service manager
// when --service is given.
func (a *app) serve(ctx context.Context, name, displayName string, body daemon.RunFunc) error {
	if a.serviceAction == "" {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return body(ctx)
	}
	return daemon.Control(ctx, name, displayName, serviceArgs(os.Args[1:]), body, a.serviceAction, a.log)
}

// serviceArgs turns the command line into the arguments the installed
// service runs with: --service becomes "run" and relative paths of the
// configuration file become absolute.
func serviceArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--service":
			i++
			continue
		case strings.HasPrefix(arg, "--service="):
			continue
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				out = append(out, arg, absPath(args[i+1]))
				i++
			}
			continue
		case strings.HasPrefix(arg, "--config="):
			arg = "--config=" + absPath(strings.TrimPrefix(arg, "--config="))
		}
		out = append(out, arg)
	}
	return append(out, "--service=run")
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Write a configuration file template",
		Args:  cobra.NoArgs,
		// The file may not exist yet, so it is not loaded.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeTemplate(a.configFile); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", a.configFile)
			return nil
		},
	}
}
