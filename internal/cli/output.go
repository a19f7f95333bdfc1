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

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/thornburywn2/console-web-sub013/internal/client"
	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// Exit codes
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitInvalid  = 2
	ExitConflict = 3
)

var (
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code  int
	Cause error
}

func (e *ExitError) Error() string { return e.Cause.Error() }

func (e *ExitError) Unwrap() error { return e.Cause }

// exitCode maps an error to an exit code. Conflicts such as an agent that
// is already running get their own code so scripts can tell them apart.
func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.IsConflict() {
		return ExitConflict
	}
	var ve *agenterrors.ValidationError
	if errors.As(err, &ve) {
		return ExitInvalid
	}
	return ExitFailure
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	writeError(os.Stderr, err)
	os.Exit(exitCode(err))
}

// writeError prints err and, when the error carries one, a hint line.
func writeError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)
	if hint := agenterrors.SuggestionFor(err); hint != "" {
		fmt.Fprintln(w, "Hint:", hint)
	}
}

// printer writes human output, styled when w is a color terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if t := os.Getenv("TERM"); t == "" || t == "dumb" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) OK(msg string)     { p.Printf("%s %s\n", p.render(styleOK, "✓"), msg) }
func (p *printer) Warn(msg string)   { p.Printf("%s %s\n", p.render(styleWarn, "⚠"), msg) }
func (p *printer) Fail(msg string)   { p.Printf("%s %s\n", p.render(styleError, "✗"), msg) }
func (p *printer) Header(msg string) { p.Printf("%s\n", p.render(styleHeader, msg)) }

func (p *printer) Muted(text string) string { return p.render(styleMuted, text) }

// Status colors an execution or action status.
func (p *printer) Status(status string) string {
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return p.render(styleOK, status)
	case "FAILED":
		return p.render(styleError, status)
	case "CANCELLED", "SKIPPED":
		return p.render(styleWarn, status)
	default:
		return status
	}
}

func emitJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
