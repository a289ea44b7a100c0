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

// Package bindvalue turns the Bind#n sections of a BINDS record into
// values that can be substituted into SQL text.
package bindvalue

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/borisdali/tracecollier/cursor"
	"github.com/pkg/errors"
)

// Oracle external data type codes (oacdty=) with their own rendering.
const (
	TypeVarchar2  = 1
	TypeNumber    = 2
	TypeRowID     = 11
	TypeRaw       = 23
	TypeLongRaw   = 24
	TypeUnhandled = 25
	TypeUserType  = 29
	TypeURowID    = 69
	TypeChar      = 96
	TypeRefCursor = 102
	TypeBuffer    = 108
	TypeVarray    = 123
)

const noOacdef = "No oacdef for this bind"

var (
	// ErrNoPriorBind is returned when "No oacdef for this bind" has nothing to copy from.
	ErrNoPriorBind = errors.New("no earlier bind with the same name")

	markerRe   = regexp.MustCompile(`^\s*Bind#(\d+)`)
	embeddedRe = regexp.MustCompile(`^(\s*value=)\s*(Bind#\d+.*)$`)
)

// Section is the part of a BINDS record describing one bind.
type Section struct {
	Position int      // n of the Bind#n marker
	Line     int      // Trace line of the marker
	Lines    []string // Marker line first
}

// Line is a trace line together with its number.
type Line struct {
	Num  int
	Text string
}

// Split cuts the lines of a BINDS record into per bind sections keyed by
// position. A "value=" line immediately followed by a Bind#n token, a known
// trace artifact, is split so the token starts a section of its own.
// Lines before the first marker are ignored.
func Split(lines []Line) map[int]*Section {
	sections := make(map[int]*Section)
	var cur *Section
	add := func(l Line) {
		if m := markerRe.FindStringSubmatch(l.Text); m != nil {
			pos, _ := strconv.Atoi(m[1])
			cur = &Section{Position: pos, Line: l.Num}
			sections[pos] = cur
		}
		if cur != nil {
			cur.Lines = append(cur.Lines, l.Text)
		}
	}
	for _, l := range lines {
		if m := embeddedRe.FindStringSubmatch(l.Text); m != nil {
			add(Line{Num: l.Num, Text: m[1]})
			add(Line{Num: l.Num, Text: " " + m[2]})
			continue
		}
		add(l)
	}
	return sections
}

// Decode sets b's type and value from its section. c is the owning cursor:
// its oct= code picks the stand-in for value-less binds and its earlier binds
// serve "No oacdef" copies.
func Decode(c *cursor.Cursor, b *cursor.Bind, s *Section) error {
	b.Line = s.Line
	var (
		dty, avl    int
		payload     []string
		found, seen bool
	)
	for i, l := range s.Lines {
		if strings.Contains(l, noOacdef) {
			prior := c.PriorBind(b.Position, b.Name)
			if prior == nil {
				return errors.Wrapf(ErrNoPriorBind, "bind %d %s", b.Position, b.Name)
			}
			b.Type, b.Value = prior.Type, prior.Value
			return nil
		}
		if v, ok := field(l, "oacdty"); ok && !seen {
			n, err := leadingInt(v)
			if err != nil {
				return errors.Wrapf(err, "bind %d oacdty", b.Position)
			}
			dty, seen = n, true
		}
		if v, ok := field(l, "avl"); ok {
			n, err := leadingInt(v)
			if err != nil {
				return errors.Wrapf(err, "bind %d avl", b.Position)
			}
			avl = n
		}
		if j := strings.Index(l, "value="); j >= 0 && !found {
			found = true
			payload = append([]string{l[j+len("value="):]}, s.Lines[i+1:]...)
			break
		}
	}
	b.Type = dty
	if !found || avl == 0 {
		b.Value = outValue(c, b)
		return nil
	}
	v, err := render(b, payload)
	if err != nil {
		return errors.Wrapf(err, "bind %d %s (oacdty=%d)", b.Position, b.Name, dty)
	}
	b.Value = v
	return nil
}

// outValue stands in for a bind that carries no value: PL/SQL OUT
// parameters show the bind name, everything else is NULL.
func outValue(c *cursor.Cursor, b *cursor.Bind) string {
	if c.Command == cursor.CommandPLSQL {
		return b.Name
	}
	return "NULL"
}

func render(b *cursor.Bind, payload []string) (string, error) {
	lit := strings.TrimSpace(payload[0])
	switch b.Type {
	case TypeVarchar2, TypeChar:
		if strings.HasPrefix(lit, `"`) {
			return quoted(payload), nil
		}
		return HexToASCII(strings.Join(payload, " "))
	case TypeNumber:
		if lit == "###" {
			return b.Name, nil
		}
		return lit, nil
	case TypeRowID, TypeURowID:
		return "CHARTOROWID('" + strings.Trim(lit, `"`) + "')", nil
	case TypeRefCursor:
		return "REF_CURSOR", nil
	case TypeBuffer, TypeVarray:
		return b.Name, nil
	default:
		// Raw, unhandled and unknown types are copied as they appear.
		return lit, nil
	}
}

// quoted rebuilds a double-quoted, possibly multi-line string payload as a
// single-quoted SQL literal.
func quoted(payload []string) string {
	s := strings.TrimLeft(payload[0], " ")
	if len(payload) > 1 {
		s = strings.Join(append([]string{s}, payload[1:]...), "\n")
	}
	s = strings.TrimPrefix(s, `"`)
	if i := strings.LastIndex(s, `"`); i >= 0 {
		s = s[:i]
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// HexToASCII decodes a payload of space separated hex bytes such as
// "0 48 0 65" into a quoted literal, dropping zero bytes.
func HexToASCII(payload string) (string, error) {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, tok := range strings.Fields(payload) {
		n, err := strconv.ParseUint(tok, 16, 32)
		if err != nil {
			return "", errors.Errorf("hex payload token %q", tok)
		}
		if n == 0 {
			continue
		}
		if n == '\'' {
			sb.WriteByte('\'')
		}
		sb.WriteRune(rune(n))
	}
	sb.WriteByte('\'')
	return sb.String(), nil
}

// field returns the text following key= in a bind metadata line.
func field(line, key string) (string, bool) {
	tok := key + "="
	i := strings.Index(line, tok)
	for i > 0 && line[i-1] != ' ' && line[i-1] != '\t' {
		j := strings.Index(line[i+len(tok):], tok)
		if j < 0 {
			return "", false
		}
		i += len(tok) + j
	}
	if i < 0 {
		return "", false
	}
	return line[i+len(tok):], true
}

// leadingInt parses the decimal digits at the start of s, so "02 mxl=22"
// yields 2.
func leadingInt(s string) (int, error) {
	end := 0
	for end < len(s) && '0' <= s[end] && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, errors.Errorf("not a number: %q", s)
	}
	return strconv.Atoi(s[:end])
}
