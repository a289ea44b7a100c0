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

// Package watchdog checks for changes in a trace directory.
// Once a trace file stops changing it is handed to a MineFunc, and the
// outcome is kept in a roster so that a restart does not mine it again.
package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/borisdali/tracecollier/metrics"
	"github.com/borisdali/tracecollier/miner"
	"github.com/borisdali/tracecollier/tracefile"
	"github.com/howeyc/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultSettle is how long a trace must be left alone before it is mined.
const DefaultSettle = 5 * time.Second

// MineFunc mines the trace at path.
type MineFunc func(ctx context.Context, path string) (miner.Stats, error)

// Config controls a Watchdog.
type Config struct {
	Dir        string
	Prefix     string // When set, only traces whose base name starts with it, e.g. "orcl_ora_"
	Settle     time.Duration
	RosterFile string // Empty keeps the roster in memory only
	Logger     *zap.Logger
	Metrics    *metrics.Collector // Optional
}

// Watchdog mines the trace files of one directory as they settle.
type Watchdog struct {
	cfg    Config
	log    *zap.Logger
	mine   MineFunc
	roster *tracefile.Roster
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time // Path to the time of its last change
}

// New loads the roster and returns a Watchdog for cfg.Dir.
func New(cfg Config, mine MineFunc) (*Watchdog, error) {
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	w := &Watchdog{
		cfg:     cfg,
		log:     cfg.Logger,
		mine:    mine,
		now:     time.Now,
		pending: make(map[string]time.Time),
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	w.roster = tracefile.NewRoster()
	if cfg.RosterFile != "" {
		r, err := tracefile.LoadRoster(cfg.RosterFile)
		if err != nil {
			return nil, err
		}
		w.roster = r
	}
	return w, nil
}

// Roster returns the roster of mined traces.
func (w *Watchdog) Roster() *tracefile.Roster {
	return w.roster
}

// isTrace reports whether name looks like a trace file this watchdog owns.
func (w *Watchdog) isTrace(name string) bool {
	if filepath.Ext(name) != ".trc" {
		return false
	}
	return strings.HasPrefix(filepath.Base(name), w.cfg.Prefix)
}

// touch notes a change to name at t.
func (w *Watchdog) touch(name string, t time.Time) {
	if !w.isTrace(name) {
		w.log.Debug("not a trace file, skipping", zap.String("file", name))
		return
	}
	w.mu.Lock()
	w.pending[name] = t
	n := len(w.pending)
	w.mu.Unlock()
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.SetPending(n)
	}
}

func (w *Watchdog) forget(name string) {
	w.mu.Lock()
	delete(w.pending, name)
	w.mu.Unlock()
}

// due removes and returns, oldest path first, the traces unchanged for at
// least the settle period.
func (w *Watchdog) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for name, t := range w.pending {
		if now.Sub(t) >= w.cfg.Settle {
			out = append(out, name)
			delete(w.pending, name)
		}
	}
	sort.Strings(out)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.SetPending(len(w.pending))
	}
	return out
}

// scan queues the traces already in the directory that the roster does
// not know in their current state.
func (w *Watchdog) scan() error {
	names, err := filepath.Glob(filepath.Join(w.cfg.Dir, "*.trc"))
	if err != nil {
		return errors.Wrap(err, "watchdog: scan")
	}
	now := w.now()
	for _, name := range names {
		fi, err := os.Stat(name)
		if err != nil {
			continue
		}
		if w.roster.Mined(name, fi) {
			continue
		}
		w.touch(name, now)
	}
	return nil
}

// mineDue mines every settled trace and records it in the roster.
func (w *Watchdog) mineDue(ctx context.Context) {
	for _, name := range w.due(w.now()) {
		if ctx.Err() != nil {
			return
		}
		fi, err := os.Stat(name)
		if err != nil {
			w.log.Debug("trace is gone", zap.String("trace", name), zap.Error(err))
			continue
		}
		if w.roster.Mined(name, fi) {
			continue
		}
		start := w.now()
		st, err := w.mine(ctx, name)
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.RecordTrace(st, w.now().Sub(start), err)
		}
		e := tracefile.Entry{
			Name:          filepath.Base(name),
			DirectoryName: filepath.Dir(name),
			Size:          fi.Size(),
			ModTime:       fi.ModTime(),
			Lines:         st.Lines,
			Execs:         st.Execs,
			Narratives:    st.Narratives,
			RunID:         st.RunID,
			MinedAt:       w.now(),
		}
		if err != nil {
			if ctx.Err() != nil {
				// Interrupted, not broken: mine it again next time.
				return
			}
			e.Err = err.Error()
			w.log.Error("mining failed", zap.String("trace", name), zap.Error(err))
		}
		w.roster.Record(name, e)
		if w.cfg.RosterFile != "" {
			if err := w.roster.Save(w.cfg.RosterFile); err != nil {
				w.log.Warn("cannot save the roster", zap.String("roster", w.cfg.RosterFile), zap.Error(err))
			}
		}
	}
}

// Run watches the directory until ctx is done. Traces already present are
// queued first.
func (w *Watchdog) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watchdog: fsnotify.NewWatcher")
	}
	defer watcher.Close()
	if err := watcher.Watch(w.cfg.Dir); err != nil {
		return errors.Wrapf(err, "watchdog: watch %s", w.cfg.Dir)
	}
	if err := w.scan(); err != nil {
		return err
	}
	w.log.Info("watching", zap.String("dir", w.cfg.Dir), zap.Duration("settle", w.cfg.Settle))

	tick := time.NewTicker(w.cfg.Settle / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchdog stopped", zap.String("dir", w.cfg.Dir))
			return nil
		case ev := <-watcher.Event:
			w.log.Debug("event", zap.String("file", ev.Name), zap.String("event", ev.String()))
			switch {
			case ev.IsCreate() || ev.IsModify():
				w.touch(ev.Name, w.now())
			case ev.IsDelete() || ev.IsRename():
				w.forget(ev.Name)
			}
		case err := <-watcher.Error:
			w.log.Warn("watch error", zap.Error(err))
		case <-tick.C:
			w.mineDue(ctx)
		}
	}
}
