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

/*
Package runner is the agent execution engine.

A Runner admits run requests for agents, enforces a global concurrency cap
together with per-agent exclusivity, queues requests that cannot start yet,
executes each agent's actions in order and records every execution
transition through the store.

# Admission

Two paths lead into the runner:

  - RunAgent is the manual path. It admits synchronously and rejects with
    an *AdmissionError when the agent is already running or the runner is
    at capacity.
  - Submit is the trigger path. Requests go onto a bounded channel that a
    single admission loop (started by Start) consumes. Requests that
    cannot start right away are queued with a PENDING execution; repeated
    requests for an agent that already has a queued run are coalesced.

Both paths reserve the agent and a global slot in one critical section, so
a reservation is never partial. Every release drains the queue in the same
critical section: the oldest queued request whose agent is idle is promoted
before any new request can take the freed slot.

# Execution

Actions run sequentially in their own goroutine. The first failed action
ends the execution as FAILED and the remaining actions are recorded as
skipped, unless the agent sets continueOnError. StopAgent cancels the
running execution, which always ends CANCELLED. The reservation is released
in a deferred call, including after a panic.

# Status

GetStatus returns a snapshot that is republished inside the admission
critical section and read through an atomic pointer, so status readers
never wait on the gate.
*/
package runner
