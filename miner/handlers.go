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

package miner

import (
	"context"
	"fmt"
	"strings"

	"github.com/borisdali/tracecollier/bindvalue"
	"github.com/borisdali/tracecollier/event"
	"github.com/borisdali/tracecollier/sink"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const endOfStmt = "END OF STMT"

// parsingInCursor opens or reuses a cursor and reads its SQL text, which
// runs verbatim up to END OF STMT.
func (m *Miner) parsingInCursor(ctx context.Context, line string) error {
	p, err := event.ParseParsing(line)
	if err != nil {
		return err
	}
	sqlLine := m.tf.LineNumber()

	var text []string
	for {
		l, ok, err := m.tf.ReadRaw()
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("cursor %s: end of file before %s", p.CursorID, endOfStmt)
		}
		if l == endOfStmt {
			break
		}
		text = append(text, l)
	}

	c := m.cursors.Upsert(p.CursorID, sqlLine, p.Length)
	c.Command = p.Command
	if err := c.SetSQL(strings.Join(text, "\n")); err != nil {
		return err
	}
	m.stats.Cursors++
	m.log.Debug("cursor parsed",
		zap.String("cursor", c.ID),
		zap.Int("line", sqlLine),
		zap.Int("dep", p.Depth),
		zap.Int("oct", p.Command),
		zap.Int("binds", c.BindCount()))
	return nil
}

// parse records the PARSE line. PARSE is not filtered by depth: a cursor
// parsed by recursive SQL can be executed later at depth 0.
func (m *Miner) parse(ctx context.Context, line string) error {
	r, err := event.ParseCursor(event.Parse, line)
	if err != nil {
		return err
	}
	c, ok := m.cursors.Find(r.CursorID)
	if !ok {
		return errors.Wrap(ErrUnknownCursor, r.CursorID)
	}
	c.ParseLine = m.tf.LineNumber()
	c.Closed = false
	return nil
}

// binds decodes every Bind#n section of a BINDS record into the cursor.
func (m *Miner) binds(ctx context.Context, line string) error {
	r, err := event.ParseCursor(event.Binds, line)
	if err != nil {
		return err
	}
	c, ok := m.cursors.Find(r.CursorID)
	if !ok || c.Closed {
		return nil
	}
	if c.BindCount() == 0 {
		return errors.Wrap(ErrUnexpectedBinds, r.CursorID)
	}
	c.BindsLine = m.tf.LineNumber()

	var lines []bindvalue.Line
	for {
		l, ok, err := m.tf.ReadLine()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if event.IsTerminator(l) {
			if err := m.tf.Pushback(l); err != nil {
				return err
			}
			break
		}
		lines = append(lines, bindvalue.Line{Num: m.tf.LineNumber(), Text: l})
	}

	sections := bindvalue.Split(lines)
	for _, b := range c.Binds() {
		s, ok := sections[b.Position]
		if !ok {
			return errors.Wrapf(ErrMissingBind, "cursor %s Bind#%d", c.ID, b.Position)
		}
		if err := bindvalue.Decode(c, b, s); err != nil {
			return errors.Wrapf(err, "cursor %s", c.ID)
		}
	}
	return nil
}

// exec emits the cursor's SQL with the current bind values substituted.
func (m *Miner) exec(ctx context.Context, line string) error {
	r, err := event.ParseCursor(event.Exec, line)
	if err != nil {
		return err
	}
	if r.Depth > m.cfg.MaxDepth {
		m.stats.Skipped++
		return nil
	}
	c, ok := m.cursors.Find(r.CursorID)
	if !ok {
		// Cursors opened before tracing was switched on.
		m.log.Debug("EXEC of an unknown cursor", zap.String("cursor", r.CursorID), zap.Int("line", m.tf.LineNumber()))
		return nil
	}
	c.ExecLine = m.tf.LineNumber()
	sql, err := c.Substitute()
	if err != nil {
		return err
	}
	tim, _ := event.Field(line, "tim")
	row := &sink.Row{
		ExecLine:  c.ExecLine,
		ParseLine: c.ParseLine,
		BindsLine: c.BindsLine,
		SQLLine:   c.SQLLine,
		Depth:     r.Depth,
		CursorID:  c.ID,
		Tim:       tim,
		SQL:       sql,
	}
	if err := m.sink.Exec(ctx, row); err != nil {
		return err
	}
	m.stats.Execs++
	return nil
}

// close marks the cursor closed. Oracle sometimes closes cursors at a depth
// other than the one they were parsed at, so unknown ids are tolerated.
func (m *Miner) close(ctx context.Context, line string) error {
	r, err := event.ParseCursor(event.Close, line)
	if err != nil {
		return err
	}
	c, ok := m.cursors.Find(r.CursorID)
	if !ok {
		m.log.Debug("CLOSE of an unknown cursor", zap.String("cursor", r.CursorID), zap.Int("dep", r.Depth), zap.Int("line", m.tf.LineNumber()))
		return nil
	}
	c.Closed = true
	c.BindsLine = 0
	return nil
}

// stat marks the cursor closed: STAT lines follow the last fetch.
func (m *Miner) stat(ctx context.Context, line string) error {
	r, err := event.ParseCursor(event.Stat, line)
	if err != nil {
		return err
	}
	if c, ok := m.cursors.Find(r.CursorID); ok {
		c.Closed = true
	}
	return nil
}

// errorRecord reports an ORA- error raised by a known cursor.
func (m *Miner) errorRecord(ctx context.Context, line string) error {
	f, err := event.ParseFailure(event.Error, line)
	if err != nil {
		return err
	}
	c, ok := m.cursors.Find(f.CursorID)
	if !ok {
		m.log.Debug("ERROR for an unknown cursor", zap.String("cursor", f.CursorID), zap.Int("err", f.Code))
		return nil
	}
	return m.narrate(ctx, &sink.Narrative{
		Kind:     sink.KindError,
		Line:     m.tf.LineNumber(),
		SQLLine:  c.SQLLine,
		CursorID: c.ID,
		Text:     fmt.Sprintf("ERROR: ORA-%05d", f.Code),
	})
}

// parseError reports a statement that failed to parse. The failing SQL
// text follows the record.
func (m *Miner) parseError(ctx context.Context, line string) error {
	f, err := event.ParseFailure(event.ParseError, line)
	if err != nil {
		return err
	}
	at := m.tf.LineNumber()
	var text []string
	for {
		l, ok, err := m.tf.ReadLine()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if event.IsTerminator(l) {
			if err := m.tf.Pushback(l); err != nil {
				return err
			}
			break
		}
		text = append(text, l)
	}
	c, ok := m.cursors.Find(f.CursorID)
	if !ok {
		m.log.Debug("PARSE ERROR for an unknown cursor", zap.String("cursor", f.CursorID), zap.Int("err", f.Code))
		return nil
	}
	msg := fmt.Sprintf("PARSE ERROR: ORA-%05d", f.Code)
	if len(text) > 0 {
		msg += "\n" + strings.Join(text, "\n")
	}
	return m.narrate(ctx, &sink.Narrative{
		Kind:     sink.KindParseError,
		Line:     at,
		SQLLine:  at + 1,
		Depth:    f.Depth,
		CursorID: c.ID,
		Text:     msg,
	})
}

// xctend reports a COMMIT or ROLLBACK.
func (m *Miner) xctend(ctx context.Context, line string) error {
	tx, err := event.ParseXctend(line)
	if err != nil {
		return err
	}
	m.stats.Transactions++
	return m.narrate(ctx, &sink.Narrative{
		Kind: sink.KindXctend,
		Line: m.tf.LineNumber(),
		Text: tx.String(),
	})
}

// deadlock captures the deadlock graph that follows a DEADLOCK DETECTED
// record and skips the process state dump after it.
func (m *Miner) deadlock(ctx context.Context, line string) error {
	at := m.tf.LineNumber()
	graph := []string{line}
	capturing := false
	for {
		l, ok, err := m.tf.ReadLine()
		if err != nil {
			return err
		}
		if !ok {
			m.log.Warn("trace ends inside a deadlock graph", zap.Int("line", at))
			return m.narrateDeadlock(ctx, at, graph)
		}
		if !capturing {
			capturing = strings.HasPrefix(l, "Deadlock graph:")
			if !capturing {
				continue
			}
		} else if strings.HasPrefix(l, "sess") || strings.HasPrefix(l, "Rows") || strings.HasPrefix(l, "----") {
			break
		}
		graph = append(graph, l)
	}
	for {
		l, ok, err := m.tf.ReadLine()
		if err != nil {
			return err
		}
		if !ok {
			m.log.Warn("trace ends before END OF PROCESS STATE", zap.Int("line", at))
			break
		}
		if strings.HasPrefix(l, "END OF PROCESS STATE") {
			break
		}
	}
	return m.narrateDeadlock(ctx, at, graph)
}

func (m *Miner) narrateDeadlock(ctx context.Context, at int, graph []string) error {
	return m.narrate(ctx, &sink.Narrative{
		Kind: sink.KindDeadlock,
		Line: at,
		Text: strings.Join(graph, "\n"),
	})
}

func (m *Miner) narrate(ctx context.Context, n *sink.Narrative) error {
	if err := m.sink.Narrative(ctx, n); err != nil {
		return err
	}
	m.stats.Narratives++
	return nil
}
