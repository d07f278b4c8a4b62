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

// traceQL passes queries through. Spans are filtered by tenant attribute
// after they are fetched.
type traceQL struct{}

func (traceQL) scoped() bool { return false }

func (traceQL) native(fragment string) bool {
	return strings.HasPrefix(fragment, "{")
}

func (traceQL) empty(string) string {
	return "{}"
}

// freeText matches span names containing text, case-insensitively.
func (traceQL) freeText(text, _ string) string {
	return "{ name =~ " + strconv.Quote("(?i).*"+regexp.QuoteMeta(text)+".*") + " }"
}

func (traceQL) scope(expr, _ string) (string, error) {
	return expr, nil
}
