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

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-32-bytes-long!!"

func TestHookTokens_RoundTrip(t *testing.T) {
	tokens, err := NewHookTokens(testSecret, time.Hour)
	require.NoError(t, err)

	signed, err := tokens.Issue("web", "pre-commit")
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "web", claims.Project)
	assert.Equal(t, "pre-commit", claims.Hook)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.True(t, claims.HasAudience(HookAudience))
	assert.True(t, claims.Allows("web", "pre-commit"))
	assert.False(t, claims.Allows("web", "pre-push"))
	assert.False(t, claims.Allows("api", "pre-commit"))
}

func TestHookTokens_Expired(t *testing.T) {
	tokens, err := NewHookTokens(testSecret, time.Hour)
	require.NoError(t, err)

	issued := time.Now().Add(-3 * time.Hour)
	tokens.now = func() time.Time { return issued }
	signed, err := tokens.Issue("web", "pre-commit")
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Validate(signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestHookTokens_WrongSecret(t *testing.T) {
	a, err := NewHookTokens(testSecret, 0)
	require.NoError(t, err)
	b, err := NewHookTokens("another-secret-of-enough-length", 0)
	require.NoError(t, err)

	signed, err := a.Issue("", "post-merge")
	require.NoError(t, err)
	_, err = b.Validate(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestHookTokens_RejectsForeignTokens(t *testing.T) {
	tokens, err := NewHookTokens(testSecret, 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		claims jwt.Claims
		method jwt.SigningMethod
	}{
		{
			name: "wrong audience",
			claims: HookClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    Issuer,
					Audience:  jwt.ClaimStrings{"api"},
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
				Hook: "pre-commit",
			},
			method: jwt.SigningMethodHS256,
		},
		{
			name: "no expiry",
			claims: HookClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:   Issuer,
					Audience: jwt.ClaimStrings{HookAudience},
				},
				Hook: "pre-commit",
			},
			method: jwt.SigningMethodHS256,
		},
		{
			name: "no hook scope",
			claims: HookClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    Issuer,
					Audience:  jwt.ClaimStrings{HookAudience},
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			},
			method: jwt.SigningMethodHS256,
		},
		{
			name: "wrong algorithm",
			claims: HookClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    Issuer,
					Audience:  jwt.ClaimStrings{HookAudience},
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
				Hook: "pre-commit",
			},
			method: jwt.SigningMethodHS512,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(tt.method, tt.claims).SignedString([]byte(testSecret))
			require.NoError(t, err)
			_, err = tokens.Validate(signed)
			assert.Error(t, err)
		})
	}
}

func TestNewHookTokens_Validation(t *testing.T) {
	_, err := NewHookTokens("short", time.Hour)
	assert.Error(t, err)

	tokens, err := NewHookTokens(testSecret, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, tokens.ttl)

	_, err = tokens.Issue("web", "")
	assert.Error(t, err)
	_, err = tokens.Validate("")
	assert.Error(t, err)
}
