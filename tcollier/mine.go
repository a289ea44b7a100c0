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
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/borisdali/tracecollier/miner"
	rttpubsub "github.com/borisdali/tracecollier/pubsub"
	"github.com/borisdali/tracecollier/sink"
	"github.com/borisdali/tracecollier/tracefile"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

func (a *app) mineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine <trace file>...",
		Short: "Mine trace files once",
		Long: `mine reads each trace file from start to end. Text and HTML reports are written
next to the trace, with .trc replaced by .txt or .html.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runMine(ctx, args)
		},
	}
}

// runMine mines every trace in turn and fails when any of them did.
func (a *app) runMine(ctx context.Context, traces []string) error {
	out, err := openOutputs(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer out.release()

	failed := 0
	for _, path := range traces {
		st, err := a.mineFile(ctx, out, path)
		if err != nil {
			a.log.Error("mining failed", zap.String("trace", path), zap.Error(err))
			failed++
			continue
		}
		if !a.quiet {
			a.log.Info("done", zap.String("trace", path), zap.Int("execs", st.Execs), zap.String("report", out.location(path)))
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d traces failed", failed, len(traces))
	}
	return nil
}

// mineFile mines one trace into a sink from out.
func (a *app) mineFile(ctx context.Context, out *outputs, path string) (miner.Stats, error) {
	tf, err := tracefile.OpenTraceFile(path)
	if err != nil {
		return miner.Stats{}, err
	}
	defer tf.Close()

	s, err := out.forTrace(path)
	if err != nil {
		return miner.Stats{}, err
	}
	m := miner.New(miner.Config{
		MaxDepth: a.cfg.depth,
		Feedback: a.cfg.feedback,
		Quiet:    a.quiet,
		Logger:   a.log,
	}, s)
	st, err := m.Mine(ctx, tf)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return st, err
}

// outputs owns the connections shared by all traces of one run and hands
// out a sink per trace.
type outputs struct {
	cfg    *config
	log    *zap.Logger
	sqlite *sink.SQLite
	redis  *sink.Redis
	client *pubsub.Client
	pub    *rttpubsub.Publisher
}

func openOutputs(ctx context.Context, cfg *config, log *zap.Logger) (*outputs, error) {
	o := &outputs{cfg: cfg, log: log}
	var err error
	switch cfg.output {
	case outputSQLite:
		o.sqlite, err = sink.OpenSQLite(cfg.sqlitePath)
	case outputRedis:
		o.redis, err = sink.NewRedis(ctx, cfg.redisURL, cfg.redisTTL)
	case outputPubSub:
		if err = setCredentials(cfg); err != nil {
			return nil, err
		}
		if o.client, err = pubsub.NewClient(ctx, cfg.projectName); err != nil {
			return nil, errors.Wrap(err, "pubsub.NewClient")
		}
		o.pub, err = rttpubsub.NewPublisher(ctx, o.client, log)
	}
	if err != nil {
		o.release()
		return nil, err
	}
	return o, nil
}

// forTrace returns the sink for the trace at path.
func (o *outputs) forTrace(path string) (sink.Sink, error) {
	switch o.cfg.output {
	case outputText, outputHTML:
		fh, err := os.Create(o.location(path))
		if err != nil {
			return nil, errors.Wrap(err, "report")
		}
		if o.cfg.output == outputText {
			return sink.NewText(fh, o.cfg.pageSize, language.English), nil
		}
		return sink.NewHTML(fh, o.cfg.pageSize, language.English), nil
	case outputSQLite:
		return o.sqlite, nil
	case outputRedis:
		return o.redis, nil
	case outputPubSub:
		return &sink.PubSub{Pub: o.pub}, nil
	}
	return nil, errors.Errorf("unknown output %q", o.cfg.output)
}

// location names where the rows of the trace at path end up.
func (o *outputs) location(path string) string {
	switch o.cfg.output {
	case outputText:
		return reportName(path, ".txt")
	case outputHTML:
		return reportName(path, ".html")
	case outputSQLite:
		return o.cfg.sqlitePath
	case outputRedis:
		return o.cfg.redisURL
	}
	return rttpubsub.TopicName
}

func (o *outputs) release() {
	if o.sqlite != nil {
		if err := o.sqlite.Release(); err != nil {
			o.log.Warn("closing the SQLite database", zap.Error(err))
		}
	}
	if o.redis != nil {
		if err := o.redis.Release(); err != nil {
			o.log.Warn("closing the Redis client", zap.Error(err))
		}
	}
	if o.pub != nil {
		o.pub.Stop()
	}
	if o.client != nil {
		o.client.Close()
	}
}

// reportName replaces the extension of the trace file name with ext.
func reportName(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// setCredentials exports the service account file for the Google clients.
func setCredentials(cfg *config) error {
	if cfg.appCred == "" {
		return nil
	}
	return errors.Wrap(os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", cfg.appCred), "setCredentials")
}
