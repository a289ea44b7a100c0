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

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/borisdali/tracecollier/miner"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTrace(t *testing.T) {
	c := NewCollector()
	c.RecordTrace(miner.Stats{Lines: 100, Execs: 7, Skipped: 3, Narratives: 2}, time.Second, nil)
	c.RecordTrace(miner.Stats{Lines: 20, Execs: 1}, time.Millisecond, errors.New("bad EXEC"))

	var testCases = []struct {
		name string
		got  float64
		want float64
	}{
		{"mined traces", testutil.ToFloat64(c.tracesTotal.WithLabelValues(StatusMined)), 1},
		{"failed traces", testutil.ToFloat64(c.tracesTotal.WithLabelValues(StatusFailed)), 1},
		{"lines", testutil.ToFloat64(c.linesTotal), 120},
		{"reported execs", testutil.ToFloat64(c.execsTotal.WithLabelValues("reported")), 8},
		{"skipped execs", testutil.ToFloat64(c.execsTotal.WithLabelValues("skipped")), 3},
		{"narratives", testutil.ToFloat64(c.narrativesTotal), 2},
	}
	for _, tc := range testCases {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
	if got := testutil.CollectAndCount(c.mineDuration); got != 1 {
		t.Errorf("mine duration series = %d, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.SetPending(4)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading /metrics failed: %v", err)
	}
	if !strings.Contains(string(body), "tracecollier_pending_traces 4") {
		t.Errorf("/metrics lacks the pending gauge:\n%s", body)
	}
}
