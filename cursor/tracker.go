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

package cursor

// Tracker maps cursor ids to the cursors mined so far. A trace file is mined
// by a single goroutine, so unlike a shared tracker it takes no locks.
type Tracker struct {
	cursors map[string]*Cursor
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{cursors: make(map[string]*Cursor)}
}

// Find looks up a cursor by id.
func (t *Tracker) Find(id string) (*Cursor, bool) {
	c, ok := t.cursors[id]
	return c, ok
}

// Upsert opens the cursor id or, when Oracle reuses the id, resets its SQL
// related state in place. Binds are cleared until SetSQL rebuilds them.
func (t *Tracker) Upsert(id string, sqlLine, length int) *Cursor {
	c, ok := t.cursors[id]
	if !ok {
		c = NewCursor(id, sqlLine, length)
		t.cursors[id] = c
		return c
	}
	c.SQLLine = sqlLine
	c.SQLLength = length
	c.ParseLine = 0
	c.SQL = ""
	c.Returning = false
	c.binds = nil
	return c
}

// Len returns the number of tracked cursors.
func (t *Tracker) Len() int {
	return len(t.cursors)
}

// RemoveAll drops every cursor at the end of a scan.
func (t *Tracker) RemoveAll() {
	t.cursors = make(map[string]*Cursor)
}
