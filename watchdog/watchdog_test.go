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

package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/borisdali/tracecollier/miner"
	"github.com/borisdali/tracecollier/tracefile"
	"github.com/kylelemons/godebug/pretty"
	"github.com/pkg/errors"
)

func writeTrace(t *testing.T, dir, name string) string {
	t.Helper()
	fileName := filepath.Join(dir, name)
	if err := os.WriteFile(fileName, []byte("Trace file "+name+"\n=====\n"), 0644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}
	return fileName
}

func TestDue(t *testing.T) {
	w, err := New(Config{Dir: "/trace", Prefix: "orcl_ora_", Settle: time.Minute}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t0 := time.Date(2016, 5, 1, 10, 0, 0, 0, time.UTC)
	w.touch("/trace/orcl_ora_2.trc", t0)
	w.touch("/trace/orcl_ora_1.trc", t0)
	w.touch("/trace/orcl_ora_3.trc", t0.Add(30*time.Second))
	w.touch("/trace/orcl_ora_3.trm", t0)
	w.touch("/trace/orcl_lgwr_9.trc", t0)

	if got := w.due(t0.Add(59 * time.Second)); len(got) != 0 {
		t.Errorf("due() before the settle period = %v, want nothing", got)
	}
	want := []string{"/trace/orcl_ora_1.trc", "/trace/orcl_ora_2.trc"}
	if diff := pretty.Compare(w.due(t0.Add(time.Minute)), want); diff != "" {
		t.Errorf("due() -> diff -got +want\n%s", diff)
	}
	// A change restarts the settle period.
	w.touch("/trace/orcl_ora_3.trc", t0.Add(80*time.Second))
	if got := w.due(t0.Add(100 * time.Second)); len(got) != 0 {
		t.Errorf("due() after a fresh change = %v, want nothing", got)
	}
	w.forget("/trace/orcl_ora_3.trc")
	if got := w.due(t0.Add(time.Hour)); len(got) != 0 {
		t.Errorf("due() after forget() = %v, want nothing", got)
	}
}

func TestMineDue(t *testing.T) {
	dir := t.TempDir()
	rosterFile := filepath.Join(dir, "state", "roster.json")
	good := writeTrace(t, dir, "orcl_ora_1.trc")
	bad := writeTrace(t, dir, "orcl_ora_2.trc")

	var mined []string
	mine := func(ctx context.Context, path string) (miner.Stats, error) {
		mined = append(mined, path)
		if path == bad {
			return miner.Stats{RunID: "run-2", Lines: 3}, errors.New("line 3: exec record: missing dep")
		}
		return miner.Stats{RunID: "run-1", Lines: 40, Execs: 5, Narratives: 1}, nil
	}
	w, err := New(Config{Dir: dir, Settle: time.Second, RosterFile: rosterFile}, mine)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.scan(); err != nil {
		t.Fatalf("scan() failed: %v", err)
	}
	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	w.mineDue(context.Background())

	if diff := pretty.Compare(mined, []string{good, bad}); diff != "" {
		t.Errorf("mined -> diff -got +want\n%s", diff)
	}

	r, err := tracefile.LoadRoster(rosterFile)
	if err != nil {
		t.Fatalf("LoadRoster() failed: %v", err)
	}
	e, ok := r.Get(good)
	if !ok || e.RunID != "run-1" || e.Execs != 5 || e.Err != "" {
		t.Errorf("roster entry for %s = %+v, %v", good, e, ok)
	}
	e, ok = r.Get(bad)
	if !ok || e.Err == "" {
		t.Errorf("roster entry for %s = %+v, %v, want the failure recorded", bad, e, ok)
	}

	// A restart with the saved roster does not queue the same files again.
	w2, err := New(Config{Dir: dir, Settle: time.Second, RosterFile: rosterFile}, mine)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w2.scan(); err != nil {
		t.Fatalf("scan() failed: %v", err)
	}
	if got := w2.due(time.Now().Add(time.Hour)); len(got) != 0 {
		t.Errorf("due() after a restart = %v, want nothing", got)
	}
}

func TestMineDueCanceled(t *testing.T) {
	dir := t.TempDir()
	name := writeTrace(t, dir, "orcl_ora_1.trc")
	ctx, cancel := context.WithCancel(context.Background())
	mine := func(ctx context.Context, path string) (miner.Stats, error) {
		cancel()
		return miner.Stats{}, ctx.Err()
	}
	w, err := New(Config{Dir: dir, Settle: time.Second}, mine)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	w.touch(name, time.Now().Add(-time.Hour))
	w.mineDue(ctx)
	if _, ok := w.Roster().Get(name); ok {
		t.Errorf("an interrupted trace was recorded as mined")
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	name := writeTrace(t, dir, "orcl_ora_7.trc")

	done := make(chan string, 1)
	mine := func(ctx context.Context, path string) (miner.Stats, error) {
		done <- path
		return miner.Stats{RunID: "run-7"}, nil
	}
	w, err := New(Config{Dir: dir, Settle: 20 * time.Millisecond}, mine)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case got := <-done:
		if got != name {
			t.Errorf("mined %q, want %q", got, name)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Run() did not mine %s", name)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestRunBadDir(t *testing.T) {
	w, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Errorf("Run() on a missing directory succeeded")
	}
}
