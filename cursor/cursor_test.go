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

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/pkg/errors"
)

func TestExtractBinds(t *testing.T) {
	var testCases = []struct {
		name string
		sql  string
		want []Placeholder
	}{
		{name: "two binds",
			sql:  "SELECT :a, :b FROM t",
			want: []Placeholder{{0, ":a"}, {1, ":b"}}},
		{name: "assignment",
			sql:  "BEGIN x := 1; END;",
			want: nil},
		{name: "assignment and bind",
			sql:  "BEGIN x := :v1; :out := x; END;",
			want: []Placeholder{{0, ":v1"}, {1, ":out"}}},
		{name: "time literal",
			sql:  "SELECT TO_DATE('12:30:00','HH24:MI:SS') FROM dual",
			want: nil},
		{name: "spaced colon in literal",
			sql:  "SELECT 'a :b' FROM t WHERE c = :c",
			want: []Placeholder{{0, ":c"}}},
		{name: "quoted name",
			sql:  `INSERT INTO t VALUES (:"SYS_B_0", :2)`,
			want: []Placeholder{{0, `:"SYS_B_0"`}, {1, ":2"}}},
		{name: "operators",
			sql:  "SELECT * FROM t WHERE a=:x AND b>:y AND c||:z IS NOT NULL",
			want: []Placeholder{{0, ":x"}, {1, ":y"}, {2, ":z"}}},
		{name: "repeated name",
			sql:  "SELECT :x, :y, :x FROM dual",
			want: []Placeholder{{0, ":x"}, {1, ":y"}, {2, ":x"}}},
		{name: "comments",
			sql:  "SELECT /* don't :bind */ a -- it's :x\nFROM t WHERE a = :a",
			want: []Placeholder{{0, ":a"}}},
		{name: "lonely colon",
			sql:  "SELECT a FROM t WHERE b = : ",
			want: nil},
		{name: "host colon",
			sql:  "SELECT a FROM t WHERE b = 'x'||:1",
			want: []Placeholder{{0, ":1"}}},
	}

	for _, tc := range testCases {
		got := ExtractBinds(tc.sql)
		if diff := pretty.Compare(got, tc.want); diff != "" {
			t.Errorf("%s: ExtractBinds(%q) -> diff -got +want\n%s", tc.name, tc.sql, diff)
		}
		if again := ExtractBinds(tc.sql); pretty.Compare(again, got) != "" {
			t.Errorf("%s: ExtractBinds(%q) is not repeatable: %v then %v", tc.name, tc.sql, got, again)
		}
	}
}

func TestTrackerUpsertResetsBinds(t *testing.T) {
	tr := NewTracker()
	c := tr.Upsert("#1", 10, 20)
	if err := c.SetSQL("SELECT :a, :b, :c FROM dual"); err != nil {
		t.Fatalf("SetSQL() failed: %v", err)
	}
	c.ParseLine = 14
	c.Closed = true
	c.Bind(2).Value = "3"

	again := tr.Upsert("#1", 40, 16)
	if again != c {
		t.Fatalf("Upsert() created a second cursor for the same id")
	}
	if c.BindCount() != 0 || c.ParseLine != 0 || c.SQLLine != 40 || c.SQLLength != 16 {
		t.Errorf("Upsert() kept stale state: binds=%d parse=%d sql=%d len=%d", c.BindCount(), c.ParseLine, c.SQLLine, c.SQLLength)
	}
	if !c.Closed {
		t.Errorf("Upsert() reset the closed flag, want it kept")
	}
	if err := c.SetSQL("SELECT :z FROM dual"); err != nil {
		t.Fatalf("SetSQL() failed: %v", err)
	}
	if c.BindCount() != 1 || c.Bind(0).Name != ":z" || c.Bind(1) != nil {
		t.Errorf("SetSQL() = %v, want a single :z bind", c.Binds())
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
	tr.RemoveAll()
	if _, ok := tr.Find("#1"); ok || tr.Len() != 0 {
		t.Errorf("RemoveAll() left cursors behind")
	}
}

func TestSubstitute(t *testing.T) {
	var testCases = []struct {
		sql    string
		values []string
		want   string
	}{
		{sql: "SELECT :a FROM dual", values: []string{"42"}, want: "SELECT 42 FROM dual"},
		{sql: "SELECT :a, :ab FROM dual", values: []string{"1", "2"}, want: "SELECT 1, 2 FROM dual"},
		{sql: "SELECT :ab, :a FROM dual", values: []string{"1", "2"}, want: "SELECT 1, 2 FROM dual"},
		{sql: "SELECT :x, :y, :x FROM dual", values: []string{"'A'", "':x'", "'B'"}, want: "SELECT 'A', ':x', 'B' FROM dual"},
		{sql: `UPDATE t SET a = :"B1"`, values: []string{"NULL"}, want: "UPDATE t SET a = NULL"},
		{sql: "SELECT 1 FROM dual", values: nil, want: "SELECT 1 FROM dual"},
	}
	for _, tc := range testCases {
		c := NewCursor("#7", 1, len(tc.sql))
		if err := c.SetSQL(tc.sql); err != nil {
			t.Fatalf("SetSQL(%q) failed: %v", tc.sql, err)
		}
		for i, v := range tc.values {
			c.Bind(i).Value = v
		}
		got, err := c.Substitute()
		if err != nil {
			t.Errorf("Substitute(%q) failed: %v", tc.sql, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Substitute(%q) = %q, want %q", tc.sql, got, tc.want)
		}
		if c.SQL != tc.sql {
			t.Errorf("Substitute(%q) modified the cached SQL to %q", tc.sql, c.SQL)
		}
	}
}

func TestSubstituteMissingBind(t *testing.T) {
	c := NewCursor("#7", 1, 10)
	if err := c.SetSQL("SELECT :a FROM dual"); err != nil {
		t.Fatalf("SetSQL() failed: %v", err)
	}
	c.SQL = "SELECT 1 FROM dual"
	if _, err := c.Substitute(); errors.Cause(err) != ErrBindNotInSQL {
		t.Errorf("Substitute() = %v, want %v", err, ErrBindNotInSQL)
	}
}

func TestPriorBindAndReturning(t *testing.T) {
	c := NewCursor("#9", 1, 10)
	if err := c.SetSQL("INSERT INTO t VALUES (:x, :y, :x) RETURNING id INTO :id"); err != nil {
		t.Fatalf("SetSQL() failed: %v", err)
	}
	if !c.Returning {
		t.Errorf("Returning = false, want true")
	}
	if b := c.PriorBind(2, ":x"); b == nil || b.Position != 0 {
		t.Errorf("PriorBind(2, :x) = %v, want position 0", b)
	}
	if b := c.PriorBind(0, ":x"); b != nil {
		t.Errorf("PriorBind(0, :x) = %v, want nil", b)
	}
	if b := c.PriorBind(3, ":id"); b != nil {
		t.Errorf("PriorBind(3, :id) = %v, want nil", b)
	}
}
