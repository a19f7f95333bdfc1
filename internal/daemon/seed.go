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

package daemon

import (
	"context"

	"github.com/thornburywn2/console-web-sub013/internal/agent"
	"github.com/thornburywn2/console-web-sub013/internal/store"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// SeedResult counts what SeedAgents changed.
type SeedResult struct {
	Created int
	Updated int
}

// SeedAgents creates agents that do not exist and replaces the ones that
// do, keeping their creation time.
func SeedAgents(ctx context.Context, st store.AgentStore, agents []*agent.Agent) (SeedResult, error) {
	var res SeedResult
	for _, a := range agents {
		existing, err := st.GetAgent(ctx, a.ID)
		switch {
		case store.IsNotFound(err):
			if err := st.CreateAgent(ctx, a.Clone()); err != nil {
				return res, agenterrors.Wrapf(err, "create agent %s", a.ID)
			}
			res.Created++
		case err != nil:
			return res, agenterrors.Wrapf(err, "get agent %s", a.ID)
		default:
			updated := a.Clone()
			updated.CreatedAt = existing.CreatedAt
			if err := st.UpdateAgent(ctx, updated); err != nil {
				return res, agenterrors.Wrapf(err, "update agent %s", a.ID)
			}
			res.Updated++
		}
	}
	return res, nil
}
