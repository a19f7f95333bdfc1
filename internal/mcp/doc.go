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

// Package mcp connects to Model Context Protocol servers and calls their
// tools on behalf of mcp actions.
//
// Servers are declared in configuration, either as a command speaking MCP
// over stdio or as a streamable HTTP endpoint. The Registry connects to a
// server the first time one of its tools is called and keeps the
// connection for later calls; a connection that fails mid-call is dropped
// and re-established on the next call.
package mcp
