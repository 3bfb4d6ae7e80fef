// Copyright 2025 Tom Barlow
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

package errors

import (
	"fmt"
)

// Error type identifiers returned by ErrorClassifier.ErrorType.
const (
	TypeValidation      = "validation"
	TypeNotFound        = "not_found"
	TypeInvalidState    = "invalid_state"
	TypeForbidden       = "forbidden"
	TypeRuleBlocked     = "rule_blocked"
	TypePayloadTooLarge = "payload_too_large"
	TypeConflict        = "conflict"
	TypeConfig          = "config"
	TypeUnauthorized    = "unauthorized"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) ErrorType() string { return TypeValidation }
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested template, instance, or identity does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "template", "instance", "identity")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) ErrorType() string { return TypeNotFound }
func (e *NotFoundError) IsRetryable() bool { return false }

// InvalidStateError is returned when an operation is not permitted in the
// current state of a template or instance.
type InvalidStateError struct {
	// Resource is the type of resource whose state blocked the operation.
	Resource string

	// ID identifies the resource.
	ID string

	// State is the state the resource was found in.
	State string

	// Message describes what was attempted.
	Message string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s (%s %s is %s)", e.Message, e.Resource, e.ID, e.State)
	}
	return e.Message
}

func (e *InvalidStateError) ErrorType() string { return TypeInvalidState }
func (e *InvalidStateError) IsRetryable() bool { return false }

// ForbiddenError is returned when an actor may not access a resource.
type ForbiddenError struct {
	// Actor is the identity that was denied.
	Actor string

	// Resource is the type of resource.
	Resource string

	// ID identifies the resource.
	ID string
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s is not authorized to access %s %s", e.Actor, e.Resource, e.ID)
}

func (e *ForbiddenError) ErrorType() string { return TypeForbidden }
func (e *ForbiddenError) IsRetryable() bool { return false }

// RuleBlockedError is returned when a blocking business rule matched a
// submission. Message is shown to the submitter verbatim.
type RuleBlockedError struct {
	// Rule is the name of the rule that matched.
	Rule string

	// Action is the rule action (REJECT or REQUIRE_APPROVAL).
	Action string

	// Message is the human-readable outcome.
	Message string
}

// Error implements the error interface.
func (e *RuleBlockedError) Error() string {
	return e.Message
}

func (e *RuleBlockedError) ErrorType() string { return TypeRuleBlocked }
func (e *RuleBlockedError) IsRetryable() bool { return false }

// PayloadTooLargeError is returned when accumulated form data would exceed
// its configured cap.
type PayloadTooLargeError struct {
	// Size is the size the payload would have reached.
	Size int

	// Limit is the configured maximum.
	Limit int
}

// Error implements the error interface.
func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("accumulated form data exceeds maximum allowed size (%d > %d)", e.Size, e.Limit)
}

func (e *PayloadTooLargeError) ErrorType() string { return TypePayloadTooLarge }
func (e *PayloadTooLargeError) IsRetryable() bool { return false }

// ConflictError is returned when a write lost a race against a concurrent
// write to the same resource.
type ConflictError struct {
	// Resource is the type of resource.
	Resource string

	// ID identifies the resource.
	ID string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Resource, e.ID)
}

func (e *ConflictError) ErrorType() string { return TypeConflict }

// IsRetryable reports true: the caller may reload and decide again.
func (e *ConflictError) IsRetryable() bool { return true }

// UnauthorizedError is returned when a request carries no usable credentials.
type UnauthorizedError struct {
	// Reason explains why the credentials were rejected.
	Reason string

	// Cause is the underlying parse or verification error, if any.
	Cause error
}

// Error implements the error interface.
func (e *UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *UnauthorizedError) Unwrap() error {
	return e.Cause
}

func (e *UnauthorizedError) ErrorType() string { return TypeUnauthorized }
func (e *UnauthorizedError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "backend.type", "auth.jwt_secret")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

func (e *ConfigError) ErrorType() string { return TypeConfig }
func (e *ConfigError) IsRetryable() bool { return false }
