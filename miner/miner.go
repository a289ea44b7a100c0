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

// Package miner reads a trace file from start to end, tracking cursors and
// their binds, and hands every execution with its SQL text reconstructed to
// a Sink. One Miner mines one trace at a time.
package miner

import (
	"context"
	"fmt"

	"github.com/borisdali/tracecollier/cursor"
	"github.com/borisdali/tracecollier/event"
	"github.com/borisdali/tracecollier/sink"
	"github.com/borisdali/tracecollier/tracefile"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultFeedback is the default number of lines between progress reports.
const DefaultFeedback = 100000

var (
	// ErrUnknownCursor is returned when a PARSE names a cursor never seen in PARSING IN CURSOR.
	ErrUnknownCursor = errors.New("unknown cursor")
	// ErrUnexpectedBinds is returned for a BINDS section of a cursor whose SQL has no binds.
	ErrUnexpectedBinds = errors.New("BINDS for a cursor without binds")
	// ErrMissingBind is returned when a BINDS section lacks an expected Bind#n.
	ErrMissingBind = errors.New("bind section missing")
)

// Config holds what a Miner needs to know besides the trace itself.
type Config struct {
	// MaxDepth is the deepest recursive call level reported. 0 reports user SQL only.
	MaxDepth int
	// Feedback is the number of lines between progress reports; 0 disables them.
	Feedback int
	// Progress, when set, is called with the line count every Feedback lines.
	Progress func(lines int)
	// Quiet suppresses informational logging.
	Quiet  bool
	Logger *zap.Logger
}

// State is where a Miner is in its scan.
type State int

// Miner states.
const (
	AwaitingHeader State = iota
	Scanning
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting header"
	case Scanning:
		return "scanning"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Stats summarizes one scan.
type Stats struct {
	RunID        string
	Lines        int
	Cursors      int // PARSING IN CURSOR records
	Execs        int // Rows handed to the sink
	Skipped      int // EXECs deeper than MaxDepth
	Transactions int // XCTEND records
	Narratives   int // Errors, deadlocks and transaction ends
}

// ParseError is returned when a scan is abandoned. Line is the line of the
// record whose handling failed.
type ParseError struct {
	Trace string
	Line  int
	Kind  event.Kind
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: line %d: %v record: %v", e.Trace, e.Line, e.Kind, e.Err)
}

// Cause returns the underlying error for errors.Cause.
func (e *ParseError) Cause() error { return e.Err }

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *ParseError) Unwrap() error { return e.Err }

type handler func(ctx context.Context, line string) error

// Miner reconstructs the SQL executed in a trace file.
type Miner struct {
	cfg      Config
	log      *zap.Logger
	sink     sink.Sink
	handlers map[event.Kind]handler

	// Per scan state.
	tf      *tracefile.TraceFile
	cursors *cursor.Tracker
	stats   Stats
	state   State
}

// New returns a Miner delivering to s.
func New(cfg Config, s sink.Sink) *Miner {
	m := &Miner{cfg: cfg, log: cfg.Logger, sink: s}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.handlers = map[event.Kind]handler{
		event.ParsingInCursor:  m.parsingInCursor,
		event.Parse:            m.parse,
		event.Binds:            m.binds,
		event.Exec:             m.exec,
		event.Close:            m.close,
		event.Stat:             m.stat,
		event.Error:            m.errorRecord,
		event.ParseError:       m.parseError,
		event.Xctend:           m.xctend,
		event.DeadlockDetected: m.deadlock,
	}
	return m
}

// State returns where the last or current scan is.
func (m *Miner) State() State {
	return m.state
}

// Mine reads tf to the end. The returned Stats cover what was mined before
// any failure. A failure to parse is a *ParseError; it ends the scan and
// drops every tracked cursor.
func (m *Miner) Mine(ctx context.Context, tf *tracefile.TraceFile) (Stats, error) {
	m.tf = tf
	m.cursors = cursor.NewTracker()
	m.stats = Stats{RunID: uuid.NewString()}
	m.state = AwaitingHeader
	defer m.cursors.RemoveAll()

	tf.SetFeedback(m.cfg.Feedback, func(lines int) {
		m.info("progress", zap.String("trace", tf.Name), zap.Int("lines", lines))
		if m.cfg.Progress != nil {
			m.cfg.Progress(lines)
		}
	})

	if err := tf.ReadHeader(); err != nil {
		return m.fail(tf.LineNumber(), event.Other, err)
	}
	m.log.Debug("trace header",
		zap.String("trace", tf.Name),
		zap.String("version", tf.Header.Version),
		zap.String("instance", tf.Header.InstanceName),
		zap.String("node", tf.Header.NodeName),
		zap.Bool("adjusted", tf.Header.Adjusted),
		zap.Bool("merged", tf.Header.Merged))
	m.state = Scanning

	tr := sink.Trace{
		RunID:    m.stats.RunID,
		Name:     tf.Name,
		Path:     tf.Path(),
		Instance: tf.Header.InstanceName,
		Adjusted: tf.Header.Adjusted,
	}
	if err := m.sink.Start(ctx, tr); err != nil {
		return m.fail(tf.LineNumber(), event.Other, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return m.fail(tf.LineNumber(), event.Other, err)
		}
		line, ok, err := tf.ReadLine()
		if err != nil {
			return m.fail(tf.LineNumber(), event.Other, err)
		}
		if !ok {
			break
		}
		kind := event.Classify(line)
		h, ok := m.handlers[kind]
		if !ok {
			continue
		}
		start := tf.LineNumber()
		if err := h(ctx, line); err != nil {
			return m.fail(start, kind, err)
		}
	}

	m.state = Done
	m.stats.Lines = tf.LineNumber()
	m.info("trace mined",
		zap.String("trace", tf.Name),
		zap.String("run_id", m.stats.RunID),
		zap.Int("lines", m.stats.Lines),
		zap.Int("cursors", m.stats.Cursors),
		zap.Int("execs", m.stats.Execs),
		zap.Int("narratives", m.stats.Narratives))
	return m.stats, nil
}

func (m *Miner) fail(line int, kind event.Kind, err error) (Stats, error) {
	m.state = Failed
	m.stats.Lines = m.tf.LineNumber()
	return m.stats, &ParseError{Trace: m.tf.Name, Line: line, Kind: kind, Err: err}
}

func (m *Miner) info(msg string, fields ...zap.Field) {
	if !m.cfg.Quiet {
		m.log.Info(msg, fields...)
	}
}
