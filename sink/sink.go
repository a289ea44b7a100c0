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

// Package sink receives the executions and narratives a Miner reconstructs
// from a trace file and delivers them to a report, a queue or a store.
package sink

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// Sink is handed every reportable unit of one trace, in trace order.
type Sink interface {
	// Start is called once the trace header has been read.
	Start(ctx context.Context, tr Trace) error
	// Exec receives one reconstructed execution.
	Exec(ctx context.Context, r *Row) error
	// Narrative receives an error, deadlock or transaction end.
	Narrative(ctx context.Context, n *Narrative) error
	// Close flushes whatever the sink buffers.
	Close() error
}

// Trace describes the trace file being mined.
type Trace struct {
	RunID    string
	Name     string
	Path     string
	Instance string
	Adjusted bool // Timings were shifted by TraceAdjust
}

// Row is one EXEC with its SQL text reconstructed.
type Row struct {
	ExecLine  int
	ParseLine int // 0 when the cursor came from the session cursor cache
	BindsLine int // 0 when no BINDS preceded the EXEC
	SQLLine   int
	Depth     int
	CursorID  string
	Tim       string // tim= of the EXEC record
	SQL       string
}

// ParseRef renders the parse line, or "from cache".
func (r *Row) ParseRef() string {
	if r.ParseLine == 0 {
		return "from cache"
	}
	return strconv.Itoa(r.ParseLine)
}

// BindsRef renders the binds line, or "no binds".
func (r *Row) BindsRef() string {
	if r.BindsLine == 0 {
		return "no binds"
	}
	return strconv.Itoa(r.BindsLine)
}

// NarrativeKind says what a Narrative is about.
type NarrativeKind string

// Narrative kinds.
const (
	KindError      NarrativeKind = "error"
	KindParseError NarrativeKind = "parse_error"
	KindDeadlock   NarrativeKind = "deadlock"
	KindXctend     NarrativeKind = "xctend"
)

// Narrative is free text tied to a trace line.
type Narrative struct {
	Kind     NarrativeKind
	Line     int
	SQLLine  int // Line of the failing statement's text, if any
	Depth    int
	CursorID string
	Text     string
}

// Tee fans every call out to all sinks, stopping at the first failure.
type Tee []Sink

// Start implements Sink.
func (t Tee) Start(ctx context.Context, tr Trace) error {
	for _, s := range t {
		if err := s.Start(ctx, tr); err != nil {
			return err
		}
	}
	return nil
}

// Exec implements Sink.
func (t Tee) Exec(ctx context.Context, r *Row) error {
	for _, s := range t {
		if err := s.Exec(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Narrative implements Sink.
func (t Tee) Narrative(ctx context.Context, n *Narrative) error {
	for _, s := range t {
		if err := s.Narrative(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (t Tee) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = errors.Wrap(err, "sink.Tee")
		}
	}
	return first
}
