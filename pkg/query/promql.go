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

//nolint:gochecknoglobals // lookup tables
var (
	promKeywords = map[string]bool{
		"and": true, "or": true, "unless": true, "bool": true,
		"offset": true, "atan2": true, "inf": true, "nan": true,
	}

	promInfix = map[string]bool{
		"and": true, "or": true, "unless": true, "offset": true, "atan2": true,
	}

	promGrouping = map[string]bool{
		"by": true, "without": true, "on": true, "ignoring": true,
		"group_left": true, "group_right": true,
	}

	promAggregators = map[string]bool{
		"sum": true, "min": true, "max": true, "avg": true, "group": true,
		"stddev": true, "stdvar": true, "count": true, "count_values": true,
		"bottomk": true, "topk": true, "quantile": true, "limitk": true,
		"limit_ratio": true,
	}
)

// promQL scopes every vector selector of a PromQL expression.
type promQL struct{}

func (promQL) scoped() bool { return true }

// native treats anything with selector, call or operator syntax as PromQL,
// as well as a metric name joined to plain tokens by a keyword operator
// ("up offset 5m", "a unless b"). Other plain words are free text.
func (promQL) native(fragment string) bool {
	if strings.ContainsAny(fragment, "{}()[]<>=!~+*/^%") {
		return true
	}

	words := strings.Fields(fragment)
	if len(words) < 3 || !isMetricName(words[0]) {
		return false
	}

	infix := false

	for i, w := range words {
		if scanWhile(w, 0, isIdentChar) != len(w) {
			return false
		}

		if i > 0 && i < len(words)-1 && promInfix[strings.ToLower(w)] {
			infix = true
		}
	}

	return infix
}

// isMetricName reports whether w would be scoped as a vector selector.
func isMetricName(w string) bool {
	lower := strings.ToLower(w)

	return isIdentStart(w[0]) && scanWhile(w, 0, isIdentChar) == len(w) &&
		!promKeywords[lower] && !promGrouping[lower] && !promAggregators[lower]
}

func (promQL) empty(matcher string) string {
	return "{" + matcher + "}"
}

// freeText matches metric names containing text, case-insensitively.
func (promQL) freeText(text, matcher string) string {
	return "{__name__=~" + strconv.Quote("(?i).*"+regexp.QuoteMeta(text)+".*") + "," + matcher + "}"
}

func (promQL) scope(expr, matcher string) (string, error) {
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
		case c == '[':
			// range or subquery; durations only
			end, err := matchClose(expr, i)
			if err != nil {
				return "", err
			}

			b.WriteString(expr[i:end])
			i = end
		case isDigit(c) || (c == '.' && i+1 < len(expr) && isDigit(expr[i+1])):
			end := scanWhile(expr, i, isNumberChar)
			b.WriteString(expr[i:end])
			i = end
		case isIdentStart(c):
			end, err := scopePromIdent(&b, expr, i, matcher)
			if err != nil {
				return "", err
			}

			i = end
		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String(), nil
}

// scopePromIdent writes the identifier starting at expr[i] and returns the
// index to continue from. Metric names become scoped selectors.
func scopePromIdent(b *strings.Builder, expr string, i int, matcher string) (int, error) {
	end := scanWhile(expr, i, isIdentChar)
	word := expr[i:end]
	next := skipSpace(expr, end)
	lower := strings.ToLower(word)

	switch {
	case promKeywords[lower]:
		b.WriteString(word)

		return end, nil
	case promGrouping[lower]:
		b.WriteString(word)

		if next < len(expr) && expr[next] == '(' {
			closeAt, err := matchClose(expr, next)
			if err != nil {
				return 0, err
			}

			b.WriteString(expr[end:closeAt])

			return closeAt, nil
		}

		return end, nil
	case next < len(expr) && expr[next] == '(':
		// function call or aggregation
		b.WriteString(word)

		return end, nil
	case promAggregators[lower] && hasWordPrefix(expr[next:], "by", "without"):
		b.WriteString(word)

		return end, nil
	case next < len(expr) && expr[next] == '{':
		closeAt, err := matchClose(expr, next)
		if err != nil {
			return 0, err
		}

		b.WriteString(word)
		b.WriteString(injectMatcher(expr[next:closeAt], matcher))

		return closeAt, nil
	default:
		b.WriteString(word)
		b.WriteString("{" + matcher + "}")

		return end, nil
	}
}
