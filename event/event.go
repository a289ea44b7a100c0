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

// Package event classifies Oracle SQL/10046 trace lines and extracts the
// key=value fields of the records the miner cares about.
package event

import (
	"regexp"
	"strings"
)

// Kind is the type of a trace record.
type Kind int

// Trace record kinds.
const (
	Other           Kind = iota // Anything the miner skips
	ParsingInCursor             // PARSING IN CURSOR #id len= dep= ... oct=
	ParseError                  // PARSE ERROR #id:len= dep= ... err=
	Parse                       // PARSE #id:c=,e=,...,dep=
	Binds                       // BINDS #id:
	Close                       // CLOSE #id:c=,e=,dep=,type=
	Stat                        // STAT #id id= ...
	Error                       // ERROR #id:err= tim=
	Exec                        // EXEC #id:c=,e=,...,dep=
	Xctend                      // XCTEND rlbk=, rd_only=
	DeadlockDetected            // DEADLOCK DETECTED ( ORA-00060 )
)

var kindNames = map[Kind]string{
	Other:            "other",
	ParsingInCursor:  "parsing in cursor",
	ParseError:       "parse error",
	Parse:            "parse",
	Binds:            "binds",
	Close:            "close",
	Stat:             "stat",
	Error:            "error",
	Exec:             "exec",
	Xctend:           "xctend",
	DeadlockDetected: "deadlock",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// verbs maps the text in front of a record's " #<cursor>" token to its kind.
// New cursor records are supported by adding their verb here.
var verbs = map[string]Kind{
	"PARSING IN CURSOR": ParsingInCursor,
	"PARSE ERROR":       ParseError,
	"PARSE":             Parse,
	"BINDS":             Binds,
	"CLOSE":             Close,
	"STAT":              Stat,
	"ERROR":             Error,
	"EXEC":              Exec,
}

var (
	verbRe = regexp.MustCompile(`^([A-Z][A-Z ]*?)\s#\d+`)
	wordRe = regexp.MustCompile(`^[A-Z]+`)
)

// Classify returns the kind of a trace line. Lines that are not records the
// miner knows about are Other.
func Classify(line string) Kind {
	if m := verbRe.FindStringSubmatch(line); m != nil {
		if k, ok := verbs[m[1]]; ok {
			return k
		}
		return Other
	}
	switch wordRe.FindString(line) {
	case "XCTEND":
		return Xctend
	case "DEADLOCK":
		if strings.HasPrefix(line, "DEADLOCK DETECTED") {
			return DeadlockDetected
		}
	}
	return Other
}

// IsTerminator reports whether line ends a multi-line section such as a
// BINDS dump or the SQL text of a PARSE ERROR.
func IsTerminator(line string) bool {
	if Classify(line) != Other {
		return true
	}
	for _, p := range []string{"WAIT #", "FETCH #", "UNMAP #", "SORT UNMAP #", "LOBREAD", "LOBWRITE", "====="} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
