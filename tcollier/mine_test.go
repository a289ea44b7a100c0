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

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/borisdali/tracecollier/sink"
	"github.com/kylelemons/godebug/pretty"
	"go.uber.org/zap"
)

const sampleTrace = `Trace file /u01/app/oracle/diag/rdbms/orcl/orcl/trace/orcl_ora_4242.trc
Oracle Database 12c Enterprise Edition Release 12.1.0.2.0 - 64bit Production
Instance name: orcl
=====================
PARSING IN CURSOR #1 len=20 dep=0 uid=0 oct=3 lid=0 tim=100 hv=1 ad='7f' sqlid='abc'
SELECT :a FROM dual
END OF STMT
BINDS #1:
 Bind#0
  oacdty=02 mxl=22(02) mxlc=00 mal=00 scl=00 pre=00
  kxsbbbfp=7f0a bln=22 avl=02 flg=05
  value=42
EXEC #1:c=0,e=15,p=0,cr=0,cu=0,mis=0,r=0,dep=0,og=1,plh=0,tim=200
XCTEND rlbk=0, rd_only=1, tim=300
`

func testApp(c *config) *app {
	return &app{cfg: c, quiet: true, log: zap.NewNop()}
}

func TestRunMineText(t *testing.T) {
	trace := writeFile(t, "orcl_ora_4242.trc", sampleTrace)
	c := defaultConfig()
	c.output = outputText
	if err := testApp(c).runMine(context.Background(), []string{trace}); err != nil {
		t.Fatalf("runMine() failed: %v", err)
	}
	report, err := os.ReadFile(strings.TrimSuffix(trace, ".trc") + ".txt")
	if err != nil {
		t.Fatalf("reading the report failed: %v", err)
	}
	for _, want := range []string{"SELECT 42 FROM dual", "COMMIT (Read Only)"} {
		if !strings.Contains(string(report), want) {
			t.Errorf("report lacks %q\n%s", want, report)
		}
	}
}

func TestRunMineSQLite(t *testing.T) {
	trace := writeFile(t, "orcl_ora_4242.trc", sampleTrace)
	c := defaultConfig()
	c.output = outputSQLite
	c.sqlitePath = filepath.Join(t.TempDir(), "tcollier.db")
	a := testApp(c)

	ctx := context.Background()
	out, err := openOutputs(ctx, c, a.log)
	if err != nil {
		t.Fatalf("openOutputs() failed: %v", err)
	}
	defer out.release()
	st, err := a.mineFile(ctx, out, trace)
	if err != nil {
		t.Fatalf("mineFile() failed: %v", err)
	}
	got, err := out.sqlite.Executions(ctx, st.RunID)
	if err != nil {
		t.Fatalf("Executions() failed: %v", err)
	}
	want := []sink.Row{{ExecLine: 13, BindsLine: 8, SQLLine: 5, CursorID: "#1", Tim: "200", SQL: "SELECT 42 FROM dual"}}
	if diff := pretty.Compare(got, want); diff != "" {
		t.Errorf("Executions() -> diff -got +want\n%s", diff)
	}
}

func TestRunMineFailures(t *testing.T) {
	notTrace := writeFile(t, "notes.trc", "Dear diary,\n")
	good := writeFile(t, "orcl_ora_1.trc", sampleTrace)
	c := defaultConfig()
	c.output = outputText
	err := testApp(c).runMine(context.Background(), []string{notTrace, good, filepath.Join(t.TempDir(), "missing.trc")})
	if err == nil || !strings.Contains(err.Error(), "2 of 3 traces failed") {
		t.Errorf("runMine() = %v, want 2 of 3 failures", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(good, ".trc") + ".txt"); err != nil {
		t.Errorf("the good trace was not reported: %v", err)
	}
}

func TestReportName(t *testing.T) {
	var testCases = []struct {
		path, ext, want string
	}{
		{"/trace/orcl_ora_1.trc", ".html", "/trace/orcl_ora_1.html"},
		{"orcl_ora_1.trc", ".txt", "orcl_ora_1.txt"},
		{"/trace/session", ".txt", "/trace/session.txt"},
	}
	for _, tc := range testCases {
		if got := reportName(tc.path, tc.ext); got != tc.want {
			t.Errorf("reportName(%q, %q) = %q, want %q", tc.path, tc.ext, got, tc.want)
		}
	}
}

func TestServiceArgs(t *testing.T) {
	got := serviceArgs([]string{"watch", "/trace", "--service", "install", "--config", "/etc/tcollier.conf", "-q"})
	want := []string{"watch", "/trace", "--config", "/etc/tcollier.conf", "-q", "--service=run"}
	if diff := pretty.Compare(got, want); diff != "" {
		t.Errorf("serviceArgs() -> diff -got +want\n%s", diff)
	}
}

func TestRootCommand(t *testing.T) {
	trace := writeFile(t, "orcl_ora_4242.trc", sampleTrace)
	conf := filepath.Join(t.TempDir(), "none.conf")
	root := newRootCmd()
	root.SetArgs([]string{"--config", conf, "mine", trace})
	if err := root.Execute(); err == nil {
		t.Errorf("mine with a missing --config file succeeded")
	}

	root = newRootCmd()
	root.SetArgs([]string{"--config", conf, "config"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config failed: %v", err)
	}
	root = newRootCmd()
	root.SetArgs([]string{"--config", conf, "-q", "--text", "mine", trace})
	if err := root.Execute(); err != nil {
		t.Fatalf("mine failed: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(trace, ".trc") + ".txt"); err != nil {
		t.Errorf("no text report: %v", err)
	}
}
