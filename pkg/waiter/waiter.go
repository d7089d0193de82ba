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

// Package waiter implements the fixed-delay, bounded-attempt polling
// used by the Model's cloud-init wait and activity-complete poll, and by
// pkg/remotecommand's agent-online poll (spec §4.3, §5). Config values are grounded on
// original_source's botocore waiter models (helper/waiters.py), which
// define the same three waits as delay*maxAttempts acceptor loops.
package waiter

import (
	"context"
	"time"

	"github.com/avast/retry-go"

	"github.com/janschumann/autoscaling-lifecycle/pkg/lifecycleerrors"
)

// Config bounds one polling loop.
type Config struct {
	Name        string
	Delay       time.Duration
	MaxAttempts uint
}

// Defaults grounded on original_source/AutoscalingLifecycle/helper/waiters.py's
// botocore waiter models.
var (
	// ScanCountGt0 polls a DynamoDB scan until it returns at least one
	// item; used by the Model's cloud-init wait (spec §4.3).
	ScanCountGt0 = Config{Name: "ScanCountGt0", Delay: 15 * time.Second, MaxAttempts: 40}

	// ActivityComplete polls the autoscaling collaborator's activity log
	// until progress reaches 100% (spec §4.3,
	// complete_lifecycle_action).
	ActivityComplete = Config{Name: "ActivityComplete", Delay: 5 * time.Second, MaxAttempts: 10}

	// AgentOnline polls SSM until an instance's agent reports Online;
	// available to application workflow triggers that register a node
	// with SSM before running remote commands on it.
	AgentOnline = Config{Name: "AgentOnline", Delay: 10 * time.Second, MaxAttempts: 20}
)

// Poll calls check repeatedly, Config.Delay apart, until it returns
// (true, nil), returns a non-nil error, or the attempt budget is
// exhausted — in which case it returns lifecycleerrors.ErrWaiterExhausted.
// check's own error short-circuits the loop immediately (it is not
// retried), matching the "Failure outcome propagates as an ordinary
// exception" rule of spec §5.
func Poll(ctx context.Context, cfg Config, check func(ctx context.Context) (bool, error)) error {
	attempts := 0
	var checkErr error

	err := retry.Do(
		func() error {
			attempts++
			done, err := check(ctx)
			if err != nil {
				checkErr = err
				return retry.Unrecoverable(err)
			}
			if !done {
				return errNotReady
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(cfg.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if checkErr != nil {
		return checkErr
	}
	return lifecycleerrors.WaiterExhausted(cfg.Name, attempts)
}

var errNotReady = &notReadyError{}

type notReadyError struct{}

func (*notReadyError) Error() string { return "waiter: condition not yet satisfied" }
