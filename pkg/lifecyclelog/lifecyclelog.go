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

// Package lifecyclelog carries one logr.Logger through a request's
// context, the same typed context-value pattern operatorpkg/context uses
// for its own Into/From helpers, specialized here to logr.Logger so
// package boundaries (model, orchestrator, waiter) don't need to accept
// a logger parameter on every call.
package lifecyclelog

import (
	"context"

	"github.com/go-logr/logr"
)

type contextKey struct{}

// IntoContext returns a copy of parent carrying logger.
func IntoContext(parent context.Context, logger logr.Logger) context.Context {
	return context.WithValue(parent, contextKey{}, logger)
}

// FromContext returns the logger carried by ctx, or logr.Discard() if
// none was set.
func FromContext(ctx context.Context) logr.Logger {
	if logger, ok := ctx.Value(contextKey{}).(logr.Logger); ok {
		return logger
	}
	return logr.Discard()
}
