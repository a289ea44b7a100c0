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

package tracefile

import (
	"strings"

	"github.com/pkg/errors"
)

// Header holds what the trace file preamble says about its origin.
type Header struct {
	TraceName    string // From "Trace file <name>"
	Version      string // From "Oracle Database ..."
	OracleHome   string
	SystemName   string
	NodeName     string
	InstanceName string
	Adjusted     bool // "*** TraceAdjust" seen, timings were shifted
	Merged       bool // Produced by trcsess from several traces
}

// headerKeys pairs the 10 character prefix a header line is recognised by
// with the label its value follows.
var headerKeys = []struct {
	prefix string
	label  string
	field  func(h *Header) *string
}{
	{"Oracle Dat", "Oracle Database", func(h *Header) *string { return &h.Version }},
	{"ORACLE_HOM", "ORACLE_HOME", func(h *Header) *string { return &h.OracleHome }},
	{"System nam", "System name", func(h *Header) *string { return &h.SystemName }},
	{"Node name:", "Node name", func(h *Header) *string { return &h.NodeName }},
	{"Instance n", "Instance name", func(h *Header) *string { return &h.InstanceName }},
}

// ReadHeader validates the first line of the trace and consumes the header
// up to its "====" separator line.
func (tf *TraceFile) ReadHeader() error {
	line, ok, err := tf.next()
	if err != nil {
		return err
	}
	switch {
	case !ok:
		return errors.Wrap(ErrNotTraceFile, "empty file")
	case strings.HasPrefix(line, "Trace file") && len(line) > len("Trace file "):
		tf.Header.TraceName = strings.TrimSpace(line[len("Trace file "):])
	case strings.HasPrefix(line, "*** "):
		tf.Header.Merged = true
	default:
		return errors.Wrapf(ErrNotTraceFile, "first line %q", line)
	}

	for {
		line, ok, err := tf.next()
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrNotTraceFile, "header separator not found after %d lines", tf.line)
		}
		if strings.HasPrefix(line, "=====") {
			return nil
		}
		if strings.HasPrefix(line, "*** TraceA") {
			tf.Header.Adjusted = true
			continue
		}
		if len(line) < 10 {
			continue
		}
		for _, k := range headerKeys {
			if line[:10] == k.prefix {
				*k.field(&tf.Header) = headerValue(line, k.label)
				break
			}
		}
	}
}

// headerValue returns what follows label, without the separator that old
// (" = ", "\t") and new (":") trace versions put in front of it.
func headerValue(line, label string) string {
	if len(line) <= len(label) {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(line[len(label):], " \t:="))
}
