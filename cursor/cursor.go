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

// Package cursor provides facilities to track Oracle cursors and their
// bind variables while a trace file is being mined.
package cursor

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// CommandPLSQL is the oct= action code of an anonymous PL/SQL block.
const CommandPLSQL = 47

var (
	// ErrBindNotInSQL is returned when a bind name can't be located in the SQL text.
	ErrBindNotInSQL = errors.New("bind name not found in SQL text")

	returningRe = regexp.MustCompile(`(?is)\bRETURNING\b.*\bINTO\b`)
)

// Bind is one positional bind variable of a cursor's current SQL text.
type Bind struct {
	Position int    // 0-based, in order of appearance
	Line     int    // Trace line of the last Bind#n section seen
	Type     int    // oacdty, 0 until known
	Name     string // As written in the SQL, leading colon included
	Value    string // Text substituted on EXEC
}

// Cursor holds what has been mined so far for one open cursor id.
type Cursor struct {
	ID        string
	SQLLine   int    // Line of PARSING IN CURSOR
	SQLLength int    // len= as reported by Oracle
	SQL       string // Full statement text
	ParseLine int    // Most recent PARSE, 0 when the cursor came from the cache
	BindsLine int    // Most recent BINDS in this open period, 0 if none
	ExecLine  int    // Most recent EXEC
	Command   int    // oct=
	Closed    bool
	Returning bool // SQL has a RETURNING ... INTO clause

	binds []*Bind
}

// NewCursor opens a new cursor for a PARSING IN CURSOR trace record.
// sqlLine is the line the record was found on, length is the SQL
// statement text's length in bytes as reported by Oracle.
func NewCursor(id string, sqlLine, length int) *Cursor {
	return &Cursor{
		ID:        id,
		SQLLine:   sqlLine,
		SQLLength: length,
	}
}

// SetSQL assigns new statement text and rebuilds the bind collection from it.
func (c *Cursor) SetSQL(sql string) error {
	c.SQL = sql
	c.Returning = returningRe.MatchString(sql)
	c.binds = nil
	for _, b := range ExtractBinds(sql) {
		if b.Position != len(c.binds) {
			return errors.Errorf("cursor %s: bind %s has position %d, want %d", c.ID, b.Name, b.Position, len(c.binds))
		}
		c.binds = append(c.binds, &Bind{Position: b.Position, Name: b.Name})
	}
	return nil
}

// BindCount returns the number of positional binds in the current SQL text.
func (c *Cursor) BindCount() int {
	return len(c.binds)
}

// Bind returns the bind at position pos, or nil.
func (c *Cursor) Bind(pos int) *Bind {
	if pos < 0 || pos >= len(c.binds) {
		return nil
	}
	return c.binds[pos]
}

// Binds returns the binds in positional order.
func (c *Cursor) Binds() []*Bind {
	return c.binds
}

// PriorBind returns the nearest bind before pos carrying the same name.
func (c *Cursor) PriorBind(pos int, name string) *Bind {
	if pos > len(c.binds) {
		pos = len(c.binds)
	}
	for i := pos - 1; i >= 0; i-- {
		if c.binds[i].Name == name {
			return c.binds[i]
		}
	}
	return nil
}

// Substitute returns a copy of the SQL text with every bind replaced by its
// current value. Binds are replaced left to right and each search resumes
// after the previous replacement, so values are never rescanned.
func (c *Cursor) Substitute() (string, error) {
	if len(c.binds) == 0 {
		return c.SQL, nil
	}
	var sb strings.Builder
	rest := c.SQL
	for _, b := range c.binds {
		i := indexToken(rest, b.Name)
		if i < 0 {
			return "", errors.Wrapf(ErrBindNotInSQL, "cursor %s, bind %d %s", c.ID, b.Position, b.Name)
		}
		sb.WriteString(rest[:i])
		sb.WriteString(b.Value)
		rest = rest[i+len(b.Name):]
	}
	sb.WriteString(rest)
	return sb.String(), nil
}

// indexToken finds name in s where it is not immediately followed by
// another word character, so :a never matches the head of :ab.
func indexToken(s, name string) int {
	off := 0
	for {
		i := strings.Index(s[off:], name)
		if i < 0 {
			return -1
		}
		end := off + i + len(name)
		if strings.HasSuffix(name, `"`) || end == len(s) || !isWordByte(s[end]) {
			return off + i
		}
		off = end
	}
}
