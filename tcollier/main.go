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

// tcollier reconstructs the SQL statements executed in Oracle SQL/10046
// trace files, with their bind values in place, and reports them as text or
// HTML or delivers them to SQLite, Redis or Cloud Pub/Sub. It mines the
// files named on the command line, or watches a trace directory.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigFile = "tcollier.conf"

// app holds what the subcommands share once the root has parsed its flags.
type app struct {
	configFile    string
	quiet         bool
	verbose       bool
	debugFile     string
	serviceAction string

	cfg *config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	// Flag values are read back through applyFlags; these only back the flags.
	var (
		depth, pageSize, feedback                          int
		text, html                                         bool
		output, sqlitePath, redisURL, project, credentials string
		redisTTL                                           time.Duration
	)

	root := &cobra.Command{
		Use:   "tcollier",
		Short: "Reconstruct the SQL executed in Oracle SQL trace files",
		Long: `tcollier reads Oracle SQL/10046 trace files and reports every execution of
user SQL with the bind values substituted into the statement text, along with
errors, deadlocks and transaction ends.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", defaultConfigFile, "Configuration file")
	pf.IntVarP(&depth, "depth", "d", 0, "Deepest recursive SQL to report (0 = user SQL only)")
	pf.BoolVarP(&text, "text", "t", false, "Plain text report")
	pf.BoolVar(&html, "html", false, "HTML report (default)")
	pf.IntVarP(&pageSize, "pagesize", "p", defaultPageSize, "Executions between repeated headings")
	pf.IntVarP(&feedback, "feedback", "f", 100000, "Lines between progress messages (0 = none)")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Only report errors")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&a.debugFile, "debug-file", "", "With --verbose, also log to this file")
	pf.StringVarP(&output, "output", "o", outputHTML, "Output: text, html, sqlite, redis or pubsub")
	pf.StringVar(&sqlitePath, "sqlite", "", "SQLite database for --output sqlite")
	pf.StringVar(&redisURL, "redis-url", "", "Redis URL for --output redis")
	pf.DurationVar(&redisTTL, "redis-ttl", 0, "Expiry of the Redis keys of a run (0 = never)")
	pf.StringVar(&project, "project", "", "GCP project for --output pubsub and dequeue")
	pf.StringVar(&credentials, "credentials", "", "GCP service account JSON file")

	root.AddCommand(a.mineCmd(), a.watchCmd(), a.dequeueCmd(), a.configCmd())
	return root
}

// setup loads the configuration, applies the flags and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	required := cmd.Flags().Changed("config")
	cfg, err := loadConfig(a.configFile, required)
	if err != nil {
		return err
	}
	if err := cfg.applyFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(a.verbose, a.debugFile)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
