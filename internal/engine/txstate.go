// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"slices"
	"strings"
	"unicode"
)

// controlsTransaction returns true if statements may start or end a transaction
// when they complete successfully.
//
// It is used for drivers that can't report SQLite's autocommit flag:
// the status is asked from SQLite again only after such statements (or after errors).
// BEGIN, COMMIT, END, ROLLBACK (including ROLLBACK TO), SAVEPOINT and RELEASE are considered;
// a RELEASE of the outermost savepoint commits a transaction that SAVEPOINT started.
// Bodies of CREATE TRIGGER statements are skipped, as they can't contain those statements.
func controlsTransaction(statements string) bool {
	var inTrigger bool

	for _, stmt := range splitStatements(statements) {
		words := keywords(stmt, 3)
		if len(words) == 0 {
			continue
		}

		if inTrigger {
			if words[0] == "END" {
				inTrigger = false
			}

			continue
		}

		switch words[0] {
		case "BEGIN", "COMMIT", "END", "ROLLBACK", "SAVEPOINT", "RELEASE":
			return true

		case "CREATE":
			// CREATE [TEMP | TEMPORARY] TRIGGER ... BEGIN ...; ...; END
			if slices.Contains(words[1:], "TRIGGER") {
				inTrigger = true
			}
		}
	}

	return false
}

// splitStatements splits SQL text on semicolons outside of quotes and comments.
func splitStatements(s string) []string {
	var res []string

	start := 0

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'', '"', '`':
			if j := strings.IndexByte(s[i+1:], c); j >= 0 {
				i += j + 1
			} else {
				i = len(s)
			}

		case '[':
			if j := strings.IndexByte(s[i+1:], ']'); j >= 0 {
				i += j + 1
			} else {
				i = len(s)
			}

		case '-':
			if strings.HasPrefix(s[i:], "--") {
				if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
					i += j
				} else {
					i = len(s)
				}
			}

		case '/':
			if strings.HasPrefix(s[i:], "/*") {
				if j := strings.Index(s[i+2:], "*/"); j >= 0 {
					i += j + 3
				} else {
					i = len(s)
				}
			}

		case ';':
			res = append(res, s[start:i])
			start = i + 1
		}
	}

	if start < len(s) {
		res = append(res, s[start:])
	}

	return res
}

// keywords returns up to n leading upper-cased words of a statement,
// skipping whitespace and comments.
func keywords(stmt string, n int) []string {
	var res []string

	s := stmt

	for len(res) < n {
		s = skipSpaceAndComments(s)

		i := strings.IndexFunc(s, func(r rune) bool {
			return !unicode.IsLetter(r) && r != '_'
		})

		if i < 0 {
			i = len(s)
		}

		if i == 0 {
			return res
		}

		res = append(res, strings.ToUpper(s[:i]))
		s = s[i:]
	}

	return res
}

// skipSpaceAndComments returns s without leading whitespace and comments.
func skipSpaceAndComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)

		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}

			s = s[i+1:]

		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return ""
			}

			s = s[i+4:]

		default:
			return s
		}
	}
}
