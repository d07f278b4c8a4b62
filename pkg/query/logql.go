/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"regexp"
	"strconv"
	"strings"
)

// logQL scopes every stream selector of a LogQL expression.
type logQL struct{}

func (logQL) scoped() bool { return true }

// native requires a stream selector or a leading pipeline stage.
func (logQL) native(fragment string) bool {
	return strings.Contains(fragment, "{") || strings.HasPrefix(fragment, "|")
}

func (logQL) empty(matcher string) string {
	return "{" + matcher + "}"
}

// freeText is a case-insensitive line filter over the tenant's streams.
func (logQL) freeText(text, matcher string) string {
	return "{" + matcher + "} |~ " + strconv.Quote("(?i)"+regexp.QuoteMeta(text))
}

func (logQL) scope(expr, matcher string) (string, error) {
	if !strings.Contains(expr, "{") {
		// bare pipeline such as |= "timeout"
		return "{" + matcher + "} " + expr, nil
	}

	var b strings.Builder

	b.Grow(len(expr) + 2*len(matcher))

	for i := 0; i < len(expr); {
		c := expr[i]

		switch {
		case isQuote(c):
			end, err := skipString(expr, i)
			if err != nil {
				return "", err
			}

			b.WriteString(expr[i:end])
			i = end
		case c == '{':
			end, err := matchClose(expr, i)
			if err != nil {
				return "", err
			}

			b.WriteString(injectMatcher(expr[i:end], matcher))
			i = end
		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String(), nil
}
