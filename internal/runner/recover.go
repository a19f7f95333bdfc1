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

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/store"
)

// ReasonInterrupted is recorded on executions left PENDING or RUNNING by a
// previous process.
const ReasonInterrupted = "interrupted by restart"

const recoverPageSize = 100

// RecoverStale marks executions a previous process left PENDING or RUNNING
// as CANCELLED. Executions this runner currently owns are left alone. Call
// it once at startup, before triggers are installed.
func (r *Runner) RecoverStale(ctx context.Context) (int, error) {
	seen := make(map[string]struct{})
	recovered, offset := 0, 0
	for {
		page, err := r.store.ListExecutions(ctx, store.ExecutionFilter{
			Statuses: []agent.ExecutionStatus{agent.StatusPending, agent.StatusRunning},
			Limit:    recoverPageSize,
			Offset:   offset,
		})
		if err != nil {
			return recovered, fmt.Errorf("list stale executions: %w", err)
		}
		if len(page) == 0 {
			return recovered, nil
		}

		progressed := false
		for _, e := range page {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			progressed = true

			if r.gate.owns(e.ID) {
				offset++
				continue
			}
			if err := r.recorder.finish(ctx, e, agent.StatusCancelled, ReasonInterrupted, nil); err != nil {
				offset++
				continue
			}
			recovered++
			r.logger.Info("recovered stale execution",
				slog.String(log.ExecutionIDKey, e.ID),
				slog.String(log.AgentIDKey, e.AgentID))
		}
		if !progressed {
			return recovered, nil
		}
	}
}
