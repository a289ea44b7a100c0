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
	"bufio"
	"context"
	"html"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// The line number columns of a text report are 15 characters wide.
const (
	textHeadings  = "%15s %15s %15s %15s %15s "
	textExec      = "%15d %15s %15s %15d %15d "
	textNarrative = "%15d %15s %15s %15s %15s "
)

// Report writes a human readable report, as plain text or as an HTML page.
// Column headings are repeated every PageSize executions and transaction
// ends so long reports stay readable.
type Report struct {
	w        *bufio.Writer
	out      io.Writer
	html     bool
	pageSize int
	units    int
	trace    Trace
	p        *message.Printer
	werr     error
}

// NewText returns a plain text Report writing to w. Line numbers use the
// thousands separator of lang; an empty tag means English.
func NewText(w io.Writer, pageSize int, lang language.Tag) *Report {
	return newReport(w, false, pageSize, lang)
}

// NewHTML returns a Report writing a single HTML page to w.
func NewHTML(w io.Writer, pageSize int, lang language.Tag) *Report {
	return newReport(w, true, pageSize, lang)
}

func newReport(w io.Writer, asHTML bool, pageSize int, lang language.Tag) *Report {
	if lang == language.Und {
		lang = language.English
	}
	return &Report{
		w:        bufio.NewWriter(w),
		out:      w,
		html:     asHTML,
		pageSize: pageSize,
		p:        message.NewPrinter(lang),
	}
}

// Start writes the report title and the first headings.
func (r *Report) Start(ctx context.Context, tr Trace) error {
	r.trace = tr
	name := tr.Path
	if name == "" {
		name = tr.Name
	}
	if r.html {
		r.printf("<html lang=\"en\"><head>\n<title>TraceCollier</title>\n<meta charset=\"UTF-8\" />\n%s</head>\n<body>\n<h1>TraceCollier</h1>\n", htmlStyle)
		r.printf("<p><strong>Processing Trace File:</strong> %s", html.EscapeString(name))
		if tr.Adjusted {
			r.printf(" (Preprocessed by '<strong>TraceAdjust</strong>')")
		}
		r.printf("</p>\n")
	} else {
		r.printf("TraceCollier\n------------\n\nProcessing Trace file: %s", name)
		if tr.Adjusted {
			r.printf(" (Preprocessed by 'TraceAdjust')")
		}
		r.printf("\n\n")
	}
	r.headings()
	return r.err()
}

func (r *Report) headings() {
	if r.html {
		if r.units > 0 {
			r.printf("</table>\n<p>&nbsp;</p>\n\n")
		}
		r.printf("<table class=\"tctable\">\n<tr><th>EXEC/ERROR Line</th><th>PARSE Line</th><th>BINDS Line</th><th>SQL Line</th><th>DEP</th>")
		if r.trace.Adjusted {
			r.printf("<th>EXEC Date/Time</th>")
		}
		r.printf("<th>SQL Text</th></tr>\n")
		return
	}
	if r.units > 0 {
		r.printf("\n\n")
	}
	r.printf(textHeadings, "EXEC/ERROR Line", "PARSE Line", "BINDS Line", "SQL Line", "DEP")
	if r.trace.Adjusted {
		r.printf("%-28s", "EXEC Date/Time")
	}
	r.printf("SQL Text\n%s\n", strings.Repeat("-", 200))
}

// page repeats the headings when another page worth of units went out.
func (r *Report) page() {
	if r.pageSize > 0 && r.units > 0 && r.units%r.pageSize == 0 {
		r.headings()
	}
	r.units++
}

// Exec writes one row.
func (r *Report) Exec(ctx context.Context, row *Row) error {
	r.page()
	if r.html {
		r.printf("<tr><td>%d</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td>", row.ExecLine, r.ref(row.ParseLine, "from cache"), r.ref(row.BindsLine, "no binds"), row.SQLLine, row.Depth)
		if r.trace.Adjusted {
			r.printf("<td>%s</td>", html.EscapeString(row.Tim))
		}
		r.printf("<td><pre>%s</pre></td></tr>\n", html.EscapeString(row.SQL))
		return r.err()
	}
	r.printf(textExec, row.ExecLine, r.ref(row.ParseLine, "from cache"), r.ref(row.BindsLine, "no binds"), row.SQLLine, row.Depth)
	if r.trace.Adjusted {
		r.printf("%-28s", row.Tim)
	}
	r.printf("%s\n\n", row.SQL)
	return r.err()
}

// Narrative writes an error, deadlock or transaction end. Transaction ends
// count towards the page size like executions do.
func (r *Report) Narrative(ctx context.Context, n *Narrative) error {
	if n.Kind == KindXctend {
		r.page()
	}
	sqlLine, depth := "", ""
	if n.SQLLine > 0 {
		sqlLine = r.p.Sprintf("%d", n.SQLLine)
	}
	if n.Kind == KindParseError || n.Kind == KindError {
		depth = r.p.Sprintf("%d", n.Depth)
	}
	if r.html {
		class := string(n.Kind)
		r.printf("<tr class=\"%s\"><td>%d</td><td></td><td></td><td>%s</td><td>%s</td>", class, n.Line, sqlLine, depth)
		if r.trace.Adjusted {
			r.printf("<td></td>")
		}
		r.printf("<td><pre>%s</pre></td></tr>\n", html.EscapeString(n.Text))
		return r.err()
	}
	r.printf(textNarrative, n.Line, "", "", sqlLine, depth)
	if r.trace.Adjusted {
		r.printf("%-28s", "")
	}
	r.printf("%s\n\n", n.Text)
	return r.err()
}

// ref renders a line number, or the sentinel used when it is 0.
func (r *Report) ref(line int, none string) string {
	if line == 0 {
		return none
	}
	return r.p.Sprintf("%d", line)
}

// Close ends the report, flushes it and closes the writer if it can be closed.
func (r *Report) Close() error {
	if r.html {
		r.printf("</table>\n</body>\n</html>\n")
	}
	if err := r.w.Flush(); err != nil {
		return errors.Wrap(err, "report")
	}
	if c, ok := r.out.(io.Closer); ok {
		return errors.Wrap(c.Close(), "report")
	}
	return nil
}

func (r *Report) printf(format string, args ...interface{}) {
	if _, err := r.p.Fprintf(r.w, format, args...); err != nil && r.werr == nil {
		r.werr = errors.Wrap(err, "report")
	}
}

// err returns the first write failure.
func (r *Report) err() error {
	return r.werr
}

const htmlStyle = `<style>
table.tctable { border-collapse: collapse; margin-bottom: 1em; }
table.tctable th, table.tctable td { border: 1px solid #999; padding: 2px 6px; vertical-align: top; }
table.tctable td:nth-child(-n+5) { text-align: right; white-space: nowrap; }
tr.error td, tr.parse_error td, tr.deadlock td { color: #a00; }
tr.xctend td { color: #060; }
pre { margin: 0; }
</style>
`
