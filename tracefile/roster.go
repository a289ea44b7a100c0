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
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Roster is a mapping of trace file paths to what was mined from them. The
// watchdog uses it to avoid mining a trace twice across restarts.
type Roster struct {
	sync.RWMutex
	R map[string]Entry
}

// Entry is the persisted record of one mined trace.
type Entry struct {
	Name          string
	DirectoryName string
	Size          int64     // Size of the file when it was mined
	ModTime       time.Time // Modification time of the file when it was mined
	Lines         int
	Execs         int
	Narratives    int
	RunID         string
	MinedAt       time.Time
	Err           string `json:",omitempty"` // Set when the scan failed
}

// NewRoster returns an empty Roster.
func NewRoster() *Roster {
	return &Roster{R: make(map[string]Entry)}
}

// LoadRoster loads the roster from disk.
// If the roster file doesn't exist, this function returns an empty one.
func LoadRoster(fileName string) (*Roster, error) {
	out, err := os.ReadFile(fileName)
	if os.IsNotExist(err) {
		return NewRoster(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "LoadRoster")
	}
	r := NewRoster()
	if err := json.Unmarshal(out, r); err != nil {
		return nil, errors.Wrapf(err, "LoadRoster: %s", fileName)
	}
	if r.R == nil {
		r.R = make(map[string]Entry)
	}
	return r, nil
}

// Mined reports whether the trace at path was already mined while it had
// the size and modification time in fi.
func (r *Roster) Mined(path string, fi os.FileInfo) bool {
	r.RLock()
	defer r.RUnlock()
	e, ok := r.R[path]
	return ok && e.Size == fi.Size() && e.ModTime.Equal(fi.ModTime())
}

// Get returns the entry recorded for path.
func (r *Roster) Get(path string) (Entry, bool) {
	r.RLock()
	defer r.RUnlock()
	e, ok := r.R[path]
	return e, ok
}

// Record stores e under path.
func (r *Roster) Record(path string, e Entry) {
	r.Lock()
	defer r.Unlock()
	r.R[path] = e
}

// Save saves the roster to disk.  This creates the directory by default,
// since for packaging reasons it's impractical to always ensure it's there.
func (r *Roster) Save(fileName string) error {
	r.RLock()
	out, err := json.MarshalIndent(r, "", "  ")
	r.RUnlock()
	if err != nil {
		return errors.Wrap(err, "Roster.Save")
	}
	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return errors.Wrap(err, "Roster.Save")
	}
	return errors.Wrap(os.WriteFile(fileName, out, 0644), "Roster.Save")
}
