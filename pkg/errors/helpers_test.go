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

package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

func TestWrap(t *testing.T) {
	root := errors.New("disk full")
	wrapped := agenterrors.Wrap(root, "persisting execution")

	require.Error(t, wrapped)
	assert.Equal(t, "persisting execution: disk full", wrapped.Error())
	assert.ErrorIs(t, wrapped, root)
	assert.NoError(t, agenterrors.Wrap(nil, "context"))
}

func TestWrapf(t *testing.T) {
	root := errors.New("permission denied")
	wrapped := agenterrors.Wrapf(root, "writing hook %s for project %q", "pre-commit", "web")

	assert.Equal(t, `writing hook pre-commit for project "web": permission denied`, wrapped.Error())
	assert.ErrorIs(t, wrapped, root)
	assert.NoError(t, agenterrors.Wrapf(nil, "unused %d", 1))
}

func TestAs(t *testing.T) {
	err := agenterrors.Wrap(&agenterrors.ValidationError{Field: "actions", Message: "must not be empty"}, "agent a1")

	var ve *agenterrors.ValidationError
	require.True(t, agenterrors.As(err, &ve))
	assert.Equal(t, "actions", ve.Field)

	var nf *agenterrors.NotFoundError
	assert.False(t, agenterrors.As(err, &nf))
}

// hinted is a user-visible error used to exercise the lookup helpers.
type hinted struct {
	visible bool
}

func (h *hinted) Error() string       { return "internal detail" }
func (h *hinted) IsUserVisible() bool { return h.visible }
func (h *hinted) UserMessage() string { return "the agent could not run" }
func (h *hinted) Suggestion() string  { return "check the agent's actions" }

func TestSuggestionFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "visible through a wrap", err: fmt.Errorf("run: %w", &hinted{visible: true}), want: "check the agent's actions"},
		{name: "hidden", err: &hinted{visible: false}},
		{name: "plain error", err: errors.New("boom")},
		{name: "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agenterrors.SuggestionFor(tt.err))
		})
	}
}

func TestClassifierHelpers(t *testing.T) {
	wrapped := agenterrors.Wrap(&agenterrors.TimeoutError{Operation: "stop agent a1"}, "api")
	assert.Equal(t, "timeout", agenterrors.TypeOf(wrapped))
	assert.True(t, agenterrors.IsRetryable(wrapped))

	assert.Equal(t, "not_found", agenterrors.TypeOf(&agenterrors.NotFoundError{}))
	assert.False(t, agenterrors.IsRetryable(&agenterrors.NotFoundError{}))

	assert.Empty(t, agenterrors.TypeOf(errors.New("plain")))
	assert.False(t, agenterrors.IsRetryable(errors.New("plain")))
}
