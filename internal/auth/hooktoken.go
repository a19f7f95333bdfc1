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

// Package auth issues and validates the tokens git hook scripts present
// when they call back into the daemon.
package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is the iss claim of every hook token.
	Issuer = "console-agentd"

	// HookAudience is the aud claim of hook tokens.
	HookAudience = "git-hook"

	// DefaultTokenTTL applies when no lifetime is configured.
	DefaultTokenTTL = 30 * 24 * time.Hour
)

// HookClaims scope a token to one project and one git hook.
type HookClaims struct {
	jwt.RegisteredClaims

	// Project is the project id the hook was installed for. Empty for the
	// default working directory.
	Project string `json:"project"`

	// Hook is the git hook name, e.g. "pre-commit".
	Hook string `json:"hook"`
}

// HookTokens signs hook tokens with HS256.
type HookTokens struct {
	secret    []byte
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// NewHookTokens creates a token issuer. A zero ttl uses DefaultTokenTTL.
func NewHookTokens(secret string, ttl time.Duration) (*HookTokens, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("hook secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &HookTokens{
		secret:    []byte(secret),
		ttl:       ttl,
		clockSkew: time.Minute,
		now:       time.Now,
	}, nil
}

// Issue returns a signed token for project and hook.
func (h *HookTokens) Issue(project, hook string) (string, error) {
	if hook == "" {
		return "", fmt.Errorf("hook name is required")
	}
	now := h.now()
	claims := HookClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   project + "/" + hook,
			Audience:  jwt.ClaimStrings{HookAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.ttl)),
		},
		Project: project,
		Hook:    hook,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims.
func (h *HookTokens) Validate(tokenString string) (*HookClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	parser := jwt.NewParser(
		jwt.WithLeeway(h.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(HookAudience),
		jwt.WithTimeFunc(h.now),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenString, &HookClaims{}, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*HookClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	if claims.Hook == "" {
		return nil, fmt.Errorf("token has no hook scope")
	}
	return claims, nil
}

// Allows reports whether the claims cover project and hook.
func (c *HookClaims) Allows(project, hook string) bool {
	return c.Project == project && c.Hook == hook
}

// HasAudience reports whether aud is one of the token's audiences.
func (c *HookClaims) HasAudience(aud string) bool {
	return slices.Contains(c.Audience, aud)
}
