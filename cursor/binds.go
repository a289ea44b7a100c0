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

import "strings"

// Placeholder is a bind variable located in SQL text.
type Placeholder struct {
	Position int
	Name     string
}

// bindLead lists the characters allowed right before a bind's colon.
const bindLead = " \t\r\n,(+-*/=<>|!"

// ExtractBinds returns the bind placeholders of sql in order of appearance.
// A colon starts a bind unless it is an assignment (:=), sits inside a
// single-quoted literal or follows a character outside bindLead.
func ExtractBinds(sql string) []Placeholder {
	var out []Placeholder
	inLiteral := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			inLiteral = !inLiteral
			continue
		}
		if inLiteral {
			continue
		}
		// Comments may carry apostrophes or colons of their own.
		if strings.HasPrefix(sql[i:], "--") {
			nl := strings.IndexByte(sql[i:], '\n')
			if nl < 0 {
				break
			}
			i += nl
			continue
		}
		if strings.HasPrefix(sql[i:], "/*") {
			cl := strings.Index(sql[i+2:], "*/")
			if cl < 0 {
				break
			}
			i += cl + 3
			continue
		}
		if ch != ':' {
			continue
		}
		if i+1 >= len(sql) || sql[i+1] == '=' {
			continue
		}
		if i > 0 && !strings.ContainsRune(bindLead, rune(sql[i-1])) {
			continue
		}
		end := i + 1
		if sql[end] == '"' {
			q := strings.IndexByte(sql[end+1:], '"')
			if q < 0 {
				continue
			}
			end += q + 2
		} else {
			for end < len(sql) && isWordByte(sql[end]) {
				end++
			}
			if end == i+1 {
				continue
			}
		}
		out = append(out, Placeholder{Position: len(out), Name: sql[i:end]})
		i = end - 1
	}
	return out
}

func isWordByte(b byte) bool {
	return b == '_' || b == '$' || b == '#' ||
		('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
