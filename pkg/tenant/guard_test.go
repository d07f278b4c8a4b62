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
package tenant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidateSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"simple", "acme", true},
		{"dashes and underscores", "acme-corp_eu", true},
		{"digits first", "42corp", true},
		{"empty", "", false},
		{"sql style injection", "bob' OR '1'='1", false},
		{"double quote", `acme"`, false},
		{"brace", "acme}", false},
		{"dot", "acme.corp", false},
		{"space", "acme corp", false},
		{"newline", "acme\n", false},
		{"nul", "acme\x00", false},
		{"leading dash", "-acme", false},
		{"non ascii", "acmé", false},
		{"too long", strings.Repeat("a", MaxSlugLength+1), false},
		{"max length", strings.Repeat("a", MaxSlugLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateSlug(tt.id)
			if tt.valid {
				require.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, ErrInvalidTenant)
		})
	}
}

func TestValidateSlugAcceptsAllowList(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[A-Za-z0-9][A-Za-z0-9_-]{0,63}`).Draw(t, "id")

		if err := ValidateSlug(id); err != nil {
			t.Fatalf("ValidateSlug(%q) = %v", id, err)
		}
	})
}

func TestValidateSlugRejectsBreakoutCharacters(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringMatching(`[a-z0-9]{0,8}`).Draw(t, "prefix")
		bad := rapid.SampledFrom([]string{"'", "\"", "`", "{", "}", "\\", "=", ",", " ", "\n", "\x00", "\x7f", "|"}).Draw(t, "bad")

		id := "a" + prefix + bad

		if err := ValidateSlug(id); err == nil {
			t.Fatalf("ValidateSlug(%q) accepted a breakout character", id)
		}
	})
}
