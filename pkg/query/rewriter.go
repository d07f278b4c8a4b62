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
// Package query turns caller filters into tenant-scoped backend queries.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/carverauto/signalquery/pkg/models"
	"github.com/carverauto/signalquery/pkg/tenant"
)

var (
	// ErrInvalidTenant is tenant.ErrInvalidTenant re-exported for callers
	// that only import this package.
	ErrInvalidTenant = tenant.ErrInvalidTenant

	// ErrInvalidQuerySyntax marks fragments that carry their own tenant
	// matcher or cannot be concatenated safely.
	ErrInvalidQuerySyntax = errors.New("invalid query syntax")

	errUnscoped = errors.New("rewritten query lost the tenant matcher")
)

// dialect scopes fragments for one backend kind. scope is only called for
// fragments that passed the balance check.
type dialect interface {
	native(fragment string) bool
	scope(fragment, matcher string) (string, error)
	freeText(text, matcher string) string
	empty(matcher string) string
	scoped() bool
}

// Rewriter builds backend-native queries that always carry the tenant
// matcher. It is safe for concurrent use.
type Rewriter struct {
	label    string
	conflict *regexp.Regexp
	counter  *regexp.Regexp
	dialects map[models.SourceKind]dialect
}

// NewRewriter returns a Rewriter that scopes on the given label name. An
// empty label selects models.DefaultTenantLabel.
func NewRewriter(label string) *Rewriter {
	if label == "" {
		label = models.DefaultTenantLabel
	}

	quoted := regexp.QuoteMeta(label)

	return &Rewriter{
		label:    label,
		conflict: regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9_:])["'\x60]?` + quoted + `["'\x60]?\s*(?:=~|!~|!=|=)`),
		counter:  regexp.MustCompile(`(?:^|[^A-Za-z0-9_:.])` + quoted + `\s*(?:=~|!~|!=|=)`),
		dialects: map[models.SourceKind]dialect{
			models.SourceMetrics: promQL{},
			models.SourceLogs:    logQL{},
			models.SourceTraces:  traceQL{},
		},
	}
}

// Label returns the tenant label name this rewriter injects.
func (r *Rewriter) Label() string {
	return r.label
}

// Matcher renders the equality matcher for tenantID. The caller must have
// validated tenantID.
func (r *Rewriter) Matcher(tenantID string) string {
	return r.label + "=" + strconv.Quote(tenantID)
}

// Rewrite scopes fragment to tenantID for the given backend kind.
//
// The tenant is validated before the fragment is looked at. Metrics and logs
// queries get the matcher appended to every selector; trace queries are
// returned unscoped and the trace adapter filters by tenant after fetching.
func (r *Rewriter) Rewrite(fragment, tenantID string, kind models.SourceKind) (string, error) {
	if err := tenant.ValidateSlug(tenantID); err != nil {
		return "", err
	}

	d, ok := r.dialects[kind]
	if !ok {
		return "", fmt.Errorf("%w: unsupported backend kind %q", ErrInvalidQuerySyntax, kind)
	}

	fragment = strings.TrimSpace(fragment)

	if err := checkCharacters(fragment); err != nil {
		return "", err
	}

	if r.conflict.MatchString(fragment) || r.quotedConflict(fragment) {
		return "", fmt.Errorf("%w: fragment sets the %s label", ErrInvalidQuerySyntax, r.label)
	}

	matcher := r.Matcher(tenantID)

	if fragment == "" {
		return d.empty(matcher), nil
	}

	if !d.native(fragment) {
		return d.freeText(fragment, matcher), nil
	}

	if err := checkBalanced(fragment); err != nil {
		return "", err
	}

	out, err := d.scope(fragment, matcher)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidQuerySyntax, err)
	}

	if d.scoped() && r.CountMatchers(out) == 0 {
		return "", fmt.Errorf("%w: %w", ErrInvalidQuerySyntax, errUnscoped)
	}

	return out, nil
}

// quotedConflict reports whether a quoted label name in front of a match
// operator decodes to the tenant label, as in {"tenant\x5fid"="x"}. Names
// whose escapes cannot be decoded are treated as conflicts.
func (r *Rewriter) quotedConflict(fragment string) bool {
	for i := 0; i < len(fragment); i++ {
		if !isQuote(fragment[i]) {
			continue
		}

		end, err := skipString(fragment, i)
		if err != nil {
			return false
		}

		if hasMatchOperator(fragment[skipSpace(fragment, end):]) {
			name, err := unquoteLiteral(fragment[i:end])
			if err != nil || strings.EqualFold(name, r.label) {
				return true
			}
		}

		i = end - 1
	}

	return false
}

func hasMatchOperator(s string) bool {
	for _, op := range []string{"=~", "!~", "!=", "="} {
		if strings.HasPrefix(s, op) {
			return true
		}
	}

	return false
}

// unquoteLiteral decodes a double, single or backtick quoted literal.
func unquoteLiteral(lit string) (string, error) {
	if lit[0] != '\'' {
		return strconv.Unquote(lit)
	}

	var b strings.Builder

	b.WriteByte('"')

	inner := lit[1 : len(lit)-1]
	for i := 0; i < len(inner); i++ {
		switch c := inner[i]; {
		case c == '\\' && i+1 < len(inner) && inner[i+1] == '\'':
			b.WriteByte('\'')
			i++
		case c == '\\' && i+1 < len(inner):
			b.WriteByte(c)
			b.WriteByte(inner[i+1])
			i++
		case c == '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}

	b.WriteByte('"')

	return strconv.Unquote(b.String())
}

// CountMatchers counts tenant label matchers in q, ignoring anything inside
// string literals.
func (r *Rewriter) CountMatchers(q string) int {
	return len(r.counter.FindAllStringIndex(maskStrings(q), -1))
}

//nolint:gochecknoglobals // default rewriter for the package-level helper
var defaultRewriter = NewRewriter(models.DefaultTenantLabel)

// CountMatchers counts tenant_id matchers in q.
func CountMatchers(q string) int {
	return defaultRewriter.CountMatchers(q)
}

// injectMatcher appends matcher to a {...} selector group.
func injectMatcher(group, matcher string) string {
	inner := strings.TrimSpace(group[1 : len(group)-1])
	inner = strings.TrimSpace(strings.TrimSuffix(inner, ","))

	if inner == "" {
		return "{" + matcher + "}"
	}

	return "{" + inner + "," + matcher + "}"
}
