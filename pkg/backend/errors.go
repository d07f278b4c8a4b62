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

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/carverauto/signalquery/pkg/models"
)

const maxErrorBody = 512

var (
	ErrAccessDenied   = errors.New("access denied")
	ErrUnexpectedType = errors.New("unexpected result type")
	errBadStatus      = errors.New("unexpected status")
)

// Error is a classified adapter failure.
type Error struct {
	Kind   models.ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with kind and status.
func NewError(kind models.ErrorKind, status int, err error) *Error {
	return &Error{Kind: kind, Status: status, Err: err}
}

// TimeoutError marks a call abandoned at its deadline.
func TimeoutError(err error) *Error {
	return NewError(models.ErrorTimeout, 0, err)
}

// Classify maps a transport or decode error to an Error. ctx is the call
// context; its expiry wins over whatever the transport reported.
func Classify(ctx context.Context, err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TimeoutError(err)
	}

	var syntaxErr *json.SyntaxError

	var typeErr *json.UnmarshalTypeError

	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, ErrUnexpectedType) {
		return NewError(models.ErrorParse, 0, err)
	}

	return NewError(models.ErrorConnection, 0, err)
}

// StatusError classifies a non-2xx response. body is truncated for the
// message.
func StatusError(status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return NewError(models.ErrorAccessDenied, status, fmt.Errorf("%w: %s", ErrAccessDenied, msg))
	}

	return NewError(models.ErrorBackend, status, fmt.Errorf("%w: %s", errBadStatus, msg))
}
