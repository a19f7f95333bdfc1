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
Package trigger connects agents to the things that fire them.

A Registry installs one listener per enabled agent according to its
trigger type and turns every firing into a runner.RunRequest:

  - GIT_*: a managed hook script in each target repository (package
    githook) that calls back into the daemon, which calls Fire.
  - FILE_CHANGE: a subscription on the shared per-project watcher
    (package filewatch).
  - SESSION_* and SYSTEM_STARTUP/SHUTDOWN: events published on the Bus,
    optionally narrowed by an expr filter.
  - SYSTEM_SCHEDULE: an entry in the cron Scheduler.
  - MANUAL: nothing; manual runs go straight to the runner.

A global agent (no project) is installed into every known project.
Installation failures are reported as *InstallError values and never stop
other agents from being installed.
*/
package trigger
