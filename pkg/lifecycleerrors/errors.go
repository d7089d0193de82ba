/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package lifecycleerrors defines the sentinel error kinds raised by the
// catalog, machine, model and orchestrator packages, and wraps them with
// structured context via operatorpkg/serrors so callers can both classify
// (errors.Is) and inspect (serrors.UnwrapValues) a failure.
package lifecycleerrors

import (
	"errors"

	"github.com/awslabs/operatorpkg/serrors"
)

var (
	// ErrConfiguration indicates a malformed transition catalog: a
	// duplicate destination state, a transition with no source states, or
	// an empty or reserved trigger name.
	ErrConfiguration = errors.New("configuration error")

	// ErrIllegalTransition indicates a pre-flight mismatch between the
	// event's transition and the node's current state.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrNoTriggers indicates the node's current state has no outgoing
	// trigger in the compiled state machine.
	ErrNoTriggers = errors.New("no triggers for state")

	// ErrCommandNotFound indicates a RemoteCommandResult event referenced a
	// command record that no longer exists in the command repository.
	ErrCommandNotFound = errors.New("command record not found")

	// ErrCommandUnsuccessful indicates a command-result event whose status
	// was not Success reached a trigger that does not ignore errors.
	ErrCommandUnsuccessful = errors.New("command unsuccessful")

	// ErrOperationFailed wraps any error raised from inside a user hook
	// (prepare/condition/before/after).
	ErrOperationFailed = errors.New("operation failed")

	// ErrBadQuery indicates get_by_type was called with a filter/params
	// mismatch.
	ErrBadQuery = errors.New("bad query")

	// ErrWaiterExhausted indicates a polling waiter ran out of attempts
	// before its condition was satisfied.
	ErrWaiterExhausted = errors.New("waiter exhausted")
)

// Configuration wraps ErrConfiguration with structured context.
func Configuration(reason string, keysAndValues ...any) error {
	return serrors.Wrap(fmt(ErrConfiguration, reason), keysAndValues...)
}

// IllegalTransition wraps ErrIllegalTransition with structured context.
func IllegalTransition(reason string, keysAndValues ...any) error {
	return serrors.Wrap(fmt(ErrIllegalTransition, reason), keysAndValues...)
}

// NoTriggers wraps ErrNoTriggers with structured context.
func NoTriggers(state string) error {
	return serrors.Wrap(ErrNoTriggers, "state", state)
}

// CommandNotFound wraps ErrCommandNotFound with structured context.
func CommandNotFound(commandID string) error {
	return serrors.Wrap(ErrCommandNotFound, "command_id", commandID)
}

// CommandUnsuccessful wraps ErrCommandUnsuccessful with structured context.
func CommandUnsuccessful(status string) error {
	return serrors.Wrap(ErrCommandUnsuccessful, "status", status)
}

// OperationFailed wraps an arbitrary hook error with trigger/state context.
func OperationFailed(err error, keysAndValues ...any) error {
	return serrors.Wrap(errors.Join(ErrOperationFailed, err), keysAndValues...)
}

// BadQuery wraps ErrBadQuery with structured context.
func BadQuery(reason string) error {
	return serrors.Wrap(ErrBadQuery, "reason", reason)
}

// WaiterExhausted wraps ErrWaiterExhausted with structured context.
func WaiterExhausted(name string, attempts int) error {
	return serrors.Wrap(ErrWaiterExhausted, "waiter", name, "attempts", attempts)
}

func fmt(sentinel error, reason string) error {
	if reason == "" {
		return sentinel
	}
	return errors.Join(sentinel, errors.New(reason))
}
