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

// Package tracefile provides basic primitives for reading Oracle SQL/10046
// trace files: a numbered line reader with one line of pushback, header
// parsing and a roster of traces that have already been mined.
package tracefile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// maxLineSize bounds a single trace line; long SQL text lines can be large.
const maxLineSize = 64 * 1024 * 1024

var (
	// ErrNotTraceFile is returned when the header is not an Oracle trace header.
	ErrNotTraceFile = errors.New("not an Oracle trace file")
	// ErrPushbackFull is returned when a second line is pushed back before the first was read.
	ErrPushbackFull = errors.New("pushback buffer already holds a line")
)

// TraceFile corresponds to one trace file being mined.
type TraceFile struct {
	Name          string
	DirectoryName string // File system path to the trace file
	Header        Header

	scanner  *bufio.Scanner
	closer   io.Closer
	line     int    // Physical lines consumed so far
	pending  string // Pushed back line
	hasPend  bool
	feedback int
	progress func(lines int)
}

// OpenTraceFile opens fileName for mining.
func OpenTraceFile(fileName string) (*TraceFile, error) {
	fh, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "OpenTraceFile")
	}
	tf := NewTraceFile(filepath.Base(fileName), fh)
	tf.DirectoryName = filepath.Dir(fileName)
	tf.closer = fh
	return tf, nil
}

// NewTraceFile reads a trace from r. name is used in reports only.
func NewTraceFile(name string, r io.Reader) *TraceFile {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &TraceFile{Name: name, scanner: sc}
}

// SetFeedback calls progress every n physical lines. n of 0 disables it.
func (tf *TraceFile) SetFeedback(n int, progress func(lines int)) {
	tf.feedback = n
	tf.progress = progress
}

// Path returns the trace's full file name.
func (tf *TraceFile) Path() string {
	return filepath.Join(tf.DirectoryName, tf.Name)
}

// LineNumber returns the number of the line most recently returned.
func (tf *TraceFile) LineNumber() int {
	return tf.line
}

// next reads one physical line with any trailing carriage return removed.
func (tf *TraceFile) next() (string, bool, error) {
	if !tf.scanner.Scan() {
		if err := tf.scanner.Err(); err != nil {
			return "", false, errors.Wrapf(err, "reading %s after line %d", tf.Name, tf.line)
		}
		return "", false, nil
	}
	tf.line++
	if tf.feedback > 0 && tf.progress != nil && tf.line%tf.feedback == 0 {
		tf.progress(tf.line)
	}
	return strings.TrimSuffix(tf.scanner.Text(), "\r"), true, nil
}

// ReadLine returns the pushed back line if there is one, else the next
// physical line that is not blank, a lone space or a "*** " timestamp
// banner. ok is false at end of input.
func (tf *TraceFile) ReadLine() (line string, ok bool, err error) {
	if tf.hasPend {
		tf.hasPend = false
		return tf.pending, true, nil
	}
	for {
		line, ok, err = tf.next()
		if !ok || err != nil {
			return "", false, err
		}
		if skip(line) {
			continue
		}
		return line, true, nil
	}
}

// ReadRaw is ReadLine without the skipping; SQL text is read verbatim with it.
func (tf *TraceFile) ReadRaw() (string, bool, error) {
	if tf.hasPend {
		tf.hasPend = false
		return tf.pending, true, nil
	}
	return tf.next()
}

// Pushback makes line the result of the next ReadLine. Only one line can be
// held; the line number is not rewound.
func (tf *TraceFile) Pushback(line string) error {
	if tf.hasPend {
		return errors.Wrapf(ErrPushbackFull, "line %d", tf.line)
	}
	tf.pending = line
	tf.hasPend = true
	return nil
}

func skip(line string) bool {
	return line == "" || line == " " || strings.HasPrefix(line, "*** ")
}

// Close simply closes the file handle.
func (tf *TraceFile) Close() error {
	if tf.closer == nil {
		return nil
	}
	return tf.closer.Close()
}
