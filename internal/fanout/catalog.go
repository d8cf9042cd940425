// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fanout

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// matchPrefixRunes is how much of a catalog key must appear in the prompt.
const matchPrefixRunes = 30

// Template is a prompt-keyed set of canned replies used in degraded mode.
type Template struct {
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Replies []string `yaml:"replies" json:"replies"`
}

// catalogFile is the on-disk layout of a template catalog.
type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// Catalog holds prompt-keyed templates. It is immutable after construction.
type Catalog struct {
	templates []Template
}

// builtinTemplates are the canned answers for the well-known sample prompts.
var builtinTemplates = []Template{
	{
		Prompt: "What is the capital of France?",
		Replies: []string{
			"The capital of France is Paris. It has been the capital since the 10th century and is the country's largest city.",
			"Paris is the capital city of France. It is known for the Eiffel Tower and serves as the political and cultural center.",
			"France's capital is Paris, a global center for art, fashion, and culture located on the River Seine.",
		},
	},
	{
		Prompt: "What are the three laws of thermodynamics? Explain each in one sentence.",
		Replies: []string{
			"1) Energy cannot be created or destroyed, only transformed. 2) Entropy of an isolated system always increases. 3) Absolute zero temperature is impossible to reach.",
			"First Law: Energy is conserved in any process. Second Law: Heat flows from hot to cold spontaneously. Third Law: Perfect crystals at absolute zero have zero entropy.",
			"The laws are: 1) Conservation of energy - total energy is constant. 2) Entropy increases in closed systems. 3) Entropy approaches zero as temperature approaches absolute zero.",
		},
	},
	{
		Prompt: "If a train travels 120km in 2 hours, then 180km in 3 hours, what is the average speed?",
		Replies: []string{
			"Total distance = 120 + 180 = 300km. Total time = 2 + 3 = 5 hours. Average speed = 300/5 = 60 km/h.",
			"Average speed = Total distance / Total time = (120km + 180km) / (2h + 3h) = 300km / 5h = 60 km/h.",
			"The train covers 300km in 5 hours total. Therefore, average speed = 300 ÷ 5 = 60 kilometers per hour.",
		},
	},
}

// DefaultCatalog returns the built-in templates.
func DefaultCatalog() *Catalog {
	return NewCatalog(nil)
}

// NewCatalog returns the built-in templates followed by extra.
// Templates without a prompt or replies are skipped.
func NewCatalog(extra []Template) *Catalog {
	all := make([]Template, 0, len(builtinTemplates)+len(extra))
	for _, t := range append(append([]Template{}, builtinTemplates...), extra...) {
		if strings.TrimSpace(t.Prompt) == "" || len(t.Replies) == 0 {
			continue
		}
		all = append(all, Template{Prompt: t.Prompt, Replies: append([]string(nil), t.Replies...)})
	}
	return &Catalog{templates: all}
}

// LoadCatalog reads additional templates from a YAML file of the form
//
//	templates:
//	  - prompt: "..."
//	    replies: ["...", "..."]
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}
	return NewCatalog(file.Templates), nil
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.templates)
}

// Match returns the replies of the first template whose key prefix appears
// in the prompt, compared case-insensitively.
func (c *Catalog) Match(prompt string) ([]string, bool) {
	lower := strings.ToLower(prompt)
	for _, t := range c.templates {
		key := []rune(strings.ToLower(t.Prompt))
		if len(key) > matchPrefixRunes {
			key = key[:matchPrefixRunes]
		}
		if strings.Contains(lower, string(key)) {
			return t.Replies, true
		}
	}
	return nil, false
}
