// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

package rotate

import (
	"errors"
	"fmt"

	"github.com/toeirei/keyturn/internal/model"
)

// Failure categories, one per orchestrator transition. Callers test
// with errors.Is; every StepError wraps exactly one of these plus the
// underlying cause.
var (
	ErrGeneration    = errors.New("key generation failed")
	ErrCollision     = errors.New("key file collision")
	ErrRemoteSetup   = errors.New("remote bootstrap failed")
	ErrRemoteWrite   = errors.New("remote provisioning failed")
	ErrValidation    = errors.New("new key validation failed")
	ErrRemoteCleanup = errors.New("remote cleanup failed")
	ErrLocalConfig   = errors.New("local config update failed")
)

// StepError carries which transition failed and for which relationship,
// so a caller (or its operator) can diagnose a failed run without logs.
type StepError struct {
	Step         Step
	Relationship model.Relationship
	Err          error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("rotation step %s failed for %s: %v", e.Step, e.Relationship, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// stepFail wraps a cause with its failure category and step context.
func stepFail(step Step, rel model.Relationship, kind, cause error) error {
	return &StepError{Step: step, Relationship: rel, Err: fmt.Errorf("%w: %w", kind, cause)}
}
