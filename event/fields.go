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

package event

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var cursorRe = regexp.MustCompile(`#\d+`)

// FieldError reports a record that matched a verb but not its field grammar.
type FieldError struct {
	Kind  Kind
	Field string
	Value string // Empty when the field is missing
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%v record: missing %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%v record: bad %s %q", e.Kind, e.Field, e.Value)
}

// Field returns the value of key=value in line. The key must start the line
// or follow a space, comma or colon, so "e=" never matches inside "type=".
// Values end at a space or comma and lose surrounding single quotes.
func Field(line, key string) (string, bool) {
	tok := key + "="
	off := 0
	for {
		i := strings.Index(line[off:], tok)
		if i < 0 {
			return "", false
		}
		i += off
		if i == 0 || strings.IndexByte(" ,:\t", line[i-1]) >= 0 {
			v := line[i+len(tok):]
			if end := strings.IndexAny(v, " ,\t"); end >= 0 {
				v = v[:end]
			}
			return strings.Trim(v, "'"), true
		}
		off = i + len(tok)
	}
}

func intField(k Kind, line, key string) (int, error) {
	v, ok := Field(line, key)
	if !ok {
		return 0, &FieldError{Kind: k, Field: key}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &FieldError{Kind: k, Field: key, Value: v}
	}
	return n, nil
}

func cursorID(k Kind, line string) (string, error) {
	id := cursorRe.FindString(line)
	if id == "" {
		return "", &FieldError{Kind: k, Field: "cursor id"}
	}
	return id, nil
}

// CursorRecord carries the fields shared by PARSE, EXEC, CLOSE, BINDS and STAT.
type CursorRecord struct {
	Kind     Kind
	CursorID string
	Depth    int // -1 for records without dep=
}

// ParseCursor extracts the cursor id and, for kinds that carry it, dep=.
// PARSE, EXEC and CLOSE records must have a numeric dep=.
func ParseCursor(k Kind, line string) (CursorRecord, error) {
	r := CursorRecord{Kind: k, Depth: -1}
	id, err := cursorID(k, line)
	if err != nil {
		return r, err
	}
	r.CursorID = id
	switch k {
	case Parse, Exec, Close:
		if r.Depth, err = intField(k, line, "dep"); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Parsing is a PARSING IN CURSOR record.
type Parsing struct {
	CursorID string
	Length   int
	Depth    int
	Command  int // oct=
	SQLID    string
}

// ParseParsing extracts the fields of a PARSING IN CURSOR record.
func ParseParsing(line string) (Parsing, error) {
	var (
		p   Parsing
		err error
	)
	if p.CursorID, err = cursorID(ParsingInCursor, line); err != nil {
		return p, err
	}
	if p.Length, err = intField(ParsingInCursor, line, "len"); err != nil {
		return p, err
	}
	if p.Depth, err = intField(ParsingInCursor, line, "dep"); err != nil {
		return p, err
	}
	if p.Command, err = intField(ParsingInCursor, line, "oct"); err != nil {
		return p, err
	}
	p.SQLID, _ = Field(line, "sqlid")
	return p, nil
}

// Failure is an ERROR or PARSE ERROR record.
type Failure struct {
	Kind     Kind
	CursorID string
	Depth    int // -1 for ERROR records
	Command  int // oct= of a PARSE ERROR, 0 otherwise
	Code     int // err=
}

// ParseFailure extracts the fields of ERROR and PARSE ERROR records.
func ParseFailure(k Kind, line string) (Failure, error) {
	f := Failure{Kind: k, Depth: -1}
	var err error
	if f.CursorID, err = cursorID(k, line); err != nil {
		return f, err
	}
	if f.Code, err = intField(k, line, "err"); err != nil {
		return f, err
	}
	if k == ParseError {
		if f.Depth, err = intField(k, line, "dep"); err != nil {
			return f, err
		}
		f.Command, _ = intField(k, line, "oct")
	}
	return f, nil
}

// Transaction is an XCTEND record.
type Transaction struct {
	Rollback bool
	ReadOnly bool
}

// ParseXctend extracts rlbk= and rd_only= from an XCTEND record.
func ParseXctend(line string) (Transaction, error) {
	rlbk, err := intField(Xctend, line, "rlbk")
	if err != nil {
		return Transaction{}, err
	}
	ro, err := intField(Xctend, line, "rd_only")
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{Rollback: rlbk != 0, ReadOnly: ro != 0}, nil
}

// String renders a transaction end the way the report shows it.
func (t Transaction) String() string {
	s := "COMMIT"
	if t.Rollback {
		s = "ROLLBACK"
	}
	if t.ReadOnly {
		return s + " (Read Only)"
	}
	return s + " (Read Write)"
}
