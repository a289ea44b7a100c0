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
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/borisdali/tracecollier/miner"
	"github.com/borisdali/tracecollier/watchdog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Output media.
const (
	outputText   = "text"
	outputHTML   = "html"
	outputSQLite = "sqlite"
	outputRedis  = "redis"
	outputPubSub = "pubsub"
)

const defaultPageSize = 50

type config struct {
	traceDir    string
	tracePrefix string
	depth       int
	output      string
	pageSize    int
	feedback    int
	projectName string
	appCred     string
	sqlitePath  string
	redisURL    string
	redisTTL    time.Duration
	metricsAddr string
	rosterFile  string
	settle      time.Duration
}

func defaultConfig() *config {
	return &config{
		output:     outputHTML,
		pageSize:   defaultPageSize,
		feedback:   miner.DefaultFeedback,
		sqlitePath: "tracecollier.db",
		rosterFile: "tracecollier.roster",
		settle:     watchdog.DefaultSettle,
	}
}

// loadConfig reads, parses and loads the input parameters on top of the
// defaults. A missing file is not an error when it was not asked for
// explicitly.
func loadConfig(fileName string, required bool) (*config, error) {
	c := defaultConfig()
	fh, err := os.Open(fileName)
	if os.IsNotExist(err) && !required {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "loadConfig")
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.TrimLeadingSpace = true
	r.Comma = '='
	r.Comment = '#'
	r.FieldsPerRecord = 2

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "loadConfig: %s", fileName)
		}
		key, value := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if err := c.set(key, value); err != nil {
			return nil, errors.Wrapf(err, "loadConfig: %s", fileName)
		}
	}
	return c, nil
}

func (c *config) set(key, value string) error {
	var err error
	switch key {
	case "trace_dir":
		c.traceDir = value
	case "trace_prefix":
		c.tracePrefix = value
	case "depth":
		c.depth, err = strconv.Atoi(value)
	case "output":
		c.output = value
	case "pagesize":
		c.pageSize, err = strconv.Atoi(value)
	case "feedback":
		c.feedback, err = strconv.Atoi(value)
	case "project_name":
		c.projectName = value
	case "app_credentials":
		c.appCred = value
	case "sqlite_path":
		c.sqlitePath = value
	case "redis_url":
		c.redisURL = value
	case "redis_ttl":
		c.redisTTL, err = time.ParseDuration(value)
	case "metrics_addr":
		c.metricsAddr = value
	case "roster_file":
		c.rosterFile = value
	case "settle":
		c.settle, err = time.ParseDuration(value)
	default:
		return errors.Errorf("unknown config parameter: %v", key)
	}
	return errors.Wrapf(err, "config parameter %s", key)
}

// applyFlags overrides the file values with the flags set on the command line.
func (c *config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "text":
			if f.Value.String() == "true" {
				c.output = outputText
			}
		case "html":
			if f.Value.String() == "true" {
				c.output = outputHTML
			}
		default:
			if key, ok := flagKeys[f.Name]; ok {
				err = c.set(key, f.Value.String())
			}
		}
	})
	return err
}

// flagKeys maps flag names to the config file keys they override.
var flagKeys = map[string]string{
	"depth":        "depth",
	"output":       "output",
	"pagesize":     "pagesize",
	"feedback":     "feedback",
	"project":      "project_name",
	"credentials":  "app_credentials",
	"sqlite":       "sqlite_path",
	"redis-url":    "redis_url",
	"redis-ttl":    "redis_ttl",
	"metrics-addr": "metrics_addr",
	"roster":       "roster_file",
	"settle":       "settle",
	"prefix":       "trace_prefix",
}

func (c *config) validate() error {
	switch c.output {
	case outputText, outputHTML, outputSQLite:
	case outputRedis:
		if c.redisURL == "" {
			return errors.New("output redis needs redis_url")
		}
	case outputPubSub:
		if c.projectName == "" {
			return errors.New("output pubsub needs project_name")
		}
	default:
		return errors.Errorf("output can be one of text, html, sqlite, redis, pubsub. Got %q instead", c.output)
	}
	if c.depth < 0 || c.pageSize < 0 || c.feedback < 0 {
		return errors.New("depth, pagesize and feedback cannot be negative")
	}
	return nil
}

const configTemplate = `# tracecollier configuration. Command line flags override these values.
# Directory watched by "tcollier watch".
trace_dir = /u01/app/oracle/diag/rdbms/orcl/orcl/trace
# Only traces whose name starts with this are mined in watch mode.
trace_prefix = orcl_ora_
# Deepest recursive SQL reported; 0 is user SQL only.
depth = 0
# One of text, html, sqlite, redis, pubsub.
output = html
# Headings are repeated every pagesize executions.
pagesize = 50
# Lines between progress messages; 0 disables them.
feedback = 100000
# sqlite_path = tracecollier.db
# redis_url = redis://localhost:6379/0
# redis_ttl = 168h
# project_name = my-gcp-project
# app_credentials = /etc/tracecollier/credentials.json
# metrics_addr = :9464
roster_file = tracecollier.roster
settle = 5s
`

// writeTemplate writes a commented configuration file.
func writeTemplate(fileName string) error {
	if _, err := os.Stat(fileName); err == nil {
		return errors.Errorf("%s already exists", fileName)
	}
	return errors.Wrap(os.WriteFile(fileName, []byte(configTemplate), 0644), "writeTemplate")
}
