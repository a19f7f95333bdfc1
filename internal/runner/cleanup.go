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

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thornburywn2/console-web-sub013/internal/log"
)

// Cleanup deletes terminal executions older than the retention period.
// It is a no-op when retention is disabled.
func (r *Runner) Cleanup(ctx context.Context) (int64, error) {
	if r.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-r.cfg.Retention)
	n, err := r.store.DeleteExecutionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete executions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		r.logger.Info("purged old executions", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// StartCleanupLoop runs Cleanup every cleanup interval until ctx is done
// or the runner stops. It does nothing when retention is disabled.
func (r *Runner) StartCleanupLoop(ctx context.Context) {
	if r.cfg.Retention <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.quit:
				return
			case <-ticker.C:
				if _, err := r.Cleanup(ctx); err != nil {
					r.logger.Error("execution cleanup failed", log.Error(err))
				}
			}
		}
	}()
}
