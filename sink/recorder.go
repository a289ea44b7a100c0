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

package sink

import "context"

// Recorder keeps everything it is given in memory.
type Recorder struct {
	Trace      Trace
	Rows       []Row
	Narratives []Narrative
	Closed     bool
}

// Start implements Sink.
func (r *Recorder) Start(ctx context.Context, tr Trace) error {
	r.Trace = tr
	return nil
}

// Exec implements Sink.
func (r *Recorder) Exec(ctx context.Context, row *Row) error {
	r.Rows = append(r.Rows, *row)
	return nil
}

// Narrative implements Sink.
func (r *Recorder) Narrative(ctx context.Context, n *Narrative) error {
	r.Narratives = append(r.Narratives, *n)
	return nil
}

// Close implements Sink.
func (r *Recorder) Close() error {
	r.Closed = true
	return nil
}
