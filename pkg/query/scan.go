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
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	errUnterminatedString = errors.New("unterminated string literal")
	errUnbalanced         = errors.New("unbalanced brackets")
	errComment            = errors.New("comments are not allowed")
	errControlCharacter   = errors.New("control characters are not allowed")
	errInvalidUTF8        = errors.New("fragment is not valid UTF-8")
)

func isQuote(c byte) bool {
	return c == '"' || c == '\'' || c == '\x60'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == ':'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isNumberChar(c byte) bool {
	return isIdentChar(c) || c == '.'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func scanWhile(s string, i int, pred func(byte) bool) int {
	for i < len(s) && pred(s[i]) {
		i++
	}

	return i
}

func skipSpace(s string, i int) int {
	return scanWhile(s, i, isSpace)
}

// hasWordPrefix reports whether s starts with one of words as a whole token.
func hasWordPrefix(s string, words ...string) bool {
	for _, w := range words {
		if strings.HasPrefix(s, w) && (len(s) == len(w) || !isIdentChar(s[len(w)])) {
			return true
		}
	}

	return false
}

// skipString returns the index just past the string literal opening at s[i].
// Backtick strings are raw; the other quotes honor backslash escapes.
func skipString(s string, i int) (int, error) {
	quote := s[i]

	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			if quote != '\x60' {
				j++
			}
		case quote:
			return j + 1, nil
		}
	}

	return len(s), errUnterminatedString
}

// matchClose returns the index just past the bracket that closes s[i].
func matchClose(s string, i int) (int, error) {
	depth := 0

	for j := i; j < len(s); {
		c := s[j]

		switch c {
		case '"', '\'', '\x60':
			end, err := skipString(s, j)
			if err != nil {
				return 0, err
			}

			j = end

			continue
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
			if depth == 0 {
				return j + 1, nil
			}
		}

		j++
	}

	return 0, errUnbalanced
}

// checkCharacters rejects invalid UTF-8 and control characters other than
// ordinary whitespace.
func checkCharacters(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %w", ErrInvalidQuerySyntax, errInvalidUTF8)
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 0x20 && c != '\t' && c != '\n' && c != '\r') || c == 0x7f {
			return fmt.Errorf("%w: %w at offset %d", ErrInvalidQuerySyntax, errControlCharacter, i)
		}
	}

	return nil
}

// checkBalanced verifies that brackets pair up, strings terminate and no
// comment marker could swallow the appended matcher.
func checkBalanced(s string) error {
	var stack []byte

	for i := 0; i < len(s); {
		c := s[i]

		switch c {
		case '"', '\'', '\x60':
			end, err := skipString(s, i)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidQuerySyntax, err)
			}

			i = end

			continue
		case '#':
			return fmt.Errorf("%w: %w", ErrInvalidQuerySyntax, errComment)
		case '{':
			stack = append(stack, '}')
		case '(':
			stack = append(stack, ')')
		case '[':
			stack = append(stack, ']')
		case '}', ')', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return fmt.Errorf("%w: %w: unexpected %q at offset %d", ErrInvalidQuerySyntax, errUnbalanced, c, i)
			}

			stack = stack[:len(stack)-1]
		}

		i++
	}

	if len(stack) != 0 {
		return fmt.Errorf("%w: %w", ErrInvalidQuerySyntax, errUnbalanced)
	}

	return nil
}

// maskStrings blanks the contents of string literals so that label names
// inside them are not mistaken for matchers.
func maskStrings(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); {
		if !isQuote(s[i]) {
			b.WriteByte(s[i])
			i++

			continue
		}

		end, _ := skipString(s, i)
		b.WriteByte(s[i])
		b.WriteString(strings.Repeat(" ", max(end-i-2, 0)))

		if end-i >= 2 {
			b.WriteByte(s[end-1])
		}

		i = end
	}

	return b.String()
}
