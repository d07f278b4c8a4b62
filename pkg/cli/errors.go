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

package cli

import "errors"

var (
	errUnknownCommand  = errors.New("unknown command")
	errServerRequired  = errors.New("server address is required")
	errQueryRequired   = errors.New("a query or -trace-id is required")
	errInvalidOverride = errors.New("override must look like kind=expression")
	errInvalidSource   = errors.New("unknown source")
	errInvalidTime     = errors.New("time must be RFC3339")
	errCAParsing       = errors.New("failed to parse CA certificate")
	errServer          = errors.New("server rejected request")
	errEmptyQuery      = errors.New("query cannot be empty")
)
