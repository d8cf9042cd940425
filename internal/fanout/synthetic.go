// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fanout

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/traylinx/trustlayer/internal/consensus"
)

const previewRunes = 60

// genericTemplates echo a prompt preview when no catalog entry matches.
var genericTemplates = []string{
	`Regarding "%s...": This query has been processed through decentralized inference. The consensus among validators indicates a verified response based on distributed AI computation across the Cortensor network.`,
	`Analysis of "%s...": Multiple independent miners have processed this query. The validated consensus response demonstrates the reliability of decentralized AI inference with cryptographic verification.`,
	`For the query "%s...": This response represents the consensus output from redundant inference across the Cortensor network, validated using Proof of Inference and Proof of Useful Work protocols.`,
}

// genericLatencyOffsets stagger the generic replies after the base latency.
var genericLatencyOffsets = []int64{0, 75, 120}

// Synthesizer produces placeholder replies for degraded rounds.
// All randomness comes from one seeded source, so a fixed seed reproduces
// the same ids and latencies.
type Synthesizer struct {
	mu      sync.Mutex
	rng     *rand.Rand
	catalog *Catalog
}

// NewSynthesizer creates a synthesizer. A zero seed seeds from the clock and
// a nil catalog uses DefaultCatalog.
func NewSynthesizer(seed int64, catalog *Catalog) *Synthesizer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Synthesizer{rng: rand.New(rand.NewSource(seed)), catalog: catalog}
}

// Generate returns n synthetic replies for prompt.
func (s *Synthesizer) Generate(prompt string, n int) ([]consensus.Reply, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: invalid reply count %d", ErrFallbackFailed, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if texts, ok := s.catalog.Match(prompt); ok {
		replies := make([]consensus.Reply, n)
		for i := range replies {
			id, err := s.minerID(i)
			if err != nil {
				return nil, err
			}
			replies[i] = consensus.Reply{
				ResponderID: id,
				Text:        texts[i%len(texts)],
				LatencyMs:   int64(s.rng.Intn(300)) + 100 + int64(i)*50,
			}
		}
		return replies, nil
	}

	preview := promptPreview(prompt)
	base := int64(s.rng.Intn(200)) + 150
	replies := make([]consensus.Reply, n)
	for i := range replies {
		id, err := s.minerID(i)
		if err != nil {
			return nil, err
		}
		k := i % len(genericTemplates)
		replies[i] = consensus.Reply{
			ResponderID: id,
			Text:        fmt.Sprintf(genericTemplates[k], preview),
			LatencyMs:   base + genericLatencyOffsets[k] + int64(i/len(genericTemplates))*50,
		}
	}
	return replies, nil
}

// minerID returns miner_<letter>_<4 hex chars>. Must be called with mu held.
func (s *Synthesizer) minerID(i int) (string, error) {
	u, err := uuid.NewRandomFromReader(s.rng)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFallbackFailed, err)
	}
	letter := string(rune('A' + i%26))
	if i >= 26 {
		letter += strconv.Itoa(i / 26)
	}
	return "miner_" + letter + "_" + u.String()[:4], nil
}

func promptPreview(prompt string) string {
	r := []rune(prompt)
	if len(r) > previewRunes {
		r = r[:previewRunes]
	}
	p := strings.ReplaceAll(string(r), "\r\n", " ")
	return strings.ReplaceAll(p, "\n", " ")
}
