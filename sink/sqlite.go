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

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite keeps the execution history of mined traces in a SQLite database.
// Each trace is written in one transaction, committed by Close.
type SQLite struct {
	db    *sql.DB
	tx    *sql.Tx
	trace Trace
}

// OpenSQLite opens or creates the database at path (":memory:" works too)
// and creates the schema if it doesn't exist.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "sink.OpenSQLite")
	}
	// One connection, so ":memory:" databases are shared by every statement.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sink.OpenSQLite: schema")
	}
	return &SQLite{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	trace      TEXT NOT NULL,
	path       TEXT,
	instance   TEXT,
	adjusted   INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	run_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	line       INTEGER NOT NULL,
	parse_line INTEGER,
	binds_line INTEGER,
	sql_line   INTEGER,
	depth      INTEGER,
	cursor_id  TEXT,
	tim        TEXT,
	text       TEXT,
	PRIMARY KEY (run_id, line, kind),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_executions_cursor ON executions(run_id, cursor_id);
`

// Start implements Sink.
func (s *SQLite) Start(ctx context.Context, tr Trace) error {
	if s.tx != nil {
		return errors.New("sink.SQLite: previous trace still open")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sink.SQLite: begin")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, trace, path, instance, adjusted, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tr.RunID, tr.Name, tr.Path, tr.Instance, tr.Adjusted, time.Now().UTC())
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "sink.SQLite: insert run")
	}
	s.tx, s.trace = tx, tr
	return nil
}

// Exec implements Sink.
func (s *SQLite) Exec(ctx context.Context, r *Row) error {
	return s.insert(ctx, "exec", r.ExecLine, r.ParseLine, r.BindsLine, r.SQLLine, r.Depth, r.CursorID, r.Tim, r.SQL)
}

// Narrative implements Sink.
func (s *SQLite) Narrative(ctx context.Context, n *Narrative) error {
	return s.insert(ctx, string(n.Kind), n.Line, 0, 0, n.SQLLine, n.Depth, n.CursorID, "", n.Text)
}

func (s *SQLite) insert(ctx context.Context, kind string, line, parseLine, bindsLine, sqlLine, depth int, cursorID, tim, text string) error {
	if s.tx == nil {
		return errors.New("sink.SQLite: Start not called")
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO executions (run_id, kind, line, parse_line, binds_line, sql_line, depth, cursor_id, tim, text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.trace.RunID, kind, line, parseLine, bindsLine, sqlLine, depth, cursorID, tim, text)
	return errors.Wrapf(err, "sink.SQLite: insert %s at line %d", kind, line)
}

// Close commits the current trace. The database stays open for the next one.
func (s *SQLite) Close() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	return errors.Wrap(err, "sink.SQLite: commit")
}

// Executions returns the rows stored for runID, in trace order.
func (s *SQLite) Executions(ctx context.Context, runID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT line, parse_line, binds_line, sql_line, depth, cursor_id, tim, text
		 FROM executions WHERE run_id = ? AND kind = 'exec' ORDER BY line`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "sink.SQLite: query")
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ExecLine, &r.ParseLine, &r.BindsLine, &r.SQLLine, &r.Depth, &r.CursorID, &r.Tim, &r.SQL); err != nil {
			return nil, errors.Wrap(err, "sink.SQLite: scan")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "sink.SQLite: rows")
}

// Release closes the database.
func (s *SQLite) Release() error {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}
