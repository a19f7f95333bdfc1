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

package agent

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	agenterrors "github.com/thornburywn2/console-web-sub013/pkg/errors"
)

// Definitions is the YAML document of an agents file.
type Definitions struct {
	Agents []*Agent `yaml:"agents"`
}

// LoadDefinitions reads and validates an agents file.
func LoadDefinitions(path string) ([]*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes an agents document. Every agent must pass
// Validate and ids must be unique; all problems are reported together.
func ParseDefinitions(data []byte) ([]*Agent, error) {
	var doc Definitions
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Agents))
	var errs []error
	for i, a := range doc.Agents {
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("agents[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[a.ID]; dup {
			errs = append(errs, &agenterrors.ValidationError{
				Field:   fmt.Sprintf("agents[%d].id", i),
				Message: fmt.Sprintf("duplicate agent id %q", a.ID),
			})
			continue
		}
		seen[a.ID] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return doc.Agents, nil
}
