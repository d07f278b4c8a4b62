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
	"errors"
	"fmt"
)

// MaxSlugLength bounds tenant identifiers.
const MaxSlugLength = 128

// ErrInvalidTenant is returned for identifiers that are empty or could break
// out of a label matcher.
var ErrInvalidTenant = errors.New("invalid tenant")

// ValidateSlug checks id against the allow-list [A-Za-z0-9_-] with an
// alphanumeric first character. It never inspects anything else, so it can
// run before a query fragment is looked at.
func ValidateSlug(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidTenant)
	}

	if len(id) > MaxSlugLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTenant, MaxSlugLength)
	}

	for i := 0; i < len(id); i++ {
		c := id[i]

		switch {
		case isAlnum(c):
		case (c == '-' || c == '_') && i > 0:
		default:
			return fmt.Errorf("%w: disallowed character at offset %d", ErrInvalidTenant, i)
		}
	}

	return nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
