// FILE: chatwisp/src/internal/core/id.go
package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDLength is the width of every generated identifier
const IDLength = 32

// IDGenerator produces fixed-width, lexically sortable identifiers of the
// form [8 byte ms timestamp][4 byte sequence][4 byte node], hex encoded.
// Identifiers are strictly increasing for the life of the generator,
// including across clock regressions. The node is drawn once per generator
// so processes sharing a backend never mint the same identifier.
type IDGenerator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint32
	node     uint32
	now      func() time.Time
}

// Creates a generator driven by the wall clock with a random node
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now, node: randomNode()}
}

func randomNode() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[:4])
}

// Returns the next identifier
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence == math.MaxUint32 {
			ms++
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	return formatID(ms, g.sequence, g.node)
}

// Returns the node component shared by every identifier from this generator
func (g *IDGenerator) Node() uint32 {
	return g.node
}

// Advances the generator past an identifier issued by a previous process
func (g *IDGenerator) Seed(id string) error {
	ms, seq, _, err := ParseID(id)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ms > g.lastMs || (ms == g.lastMs && seq > g.sequence) {
		g.lastMs = ms
		g.sequence = seq
	}
	return nil
}

// Splits an identifier into its timestamp, sequence and node parts
func ParseID(id string) (int64, uint32, uint32, error) {
	if len(id) != IDLength {
		return 0, 0, 0, fmt.Errorf("invalid id length %d", len(id))
	}
	b, err := hex.DecodeString(id)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid id %q: %w", id, err)
	}
	return int64(binary.BigEndian.Uint64(b[:8])), binary.BigEndian.Uint32(b[8:12]), binary.BigEndian.Uint32(b[12:]), nil
}

func formatID(ms int64, seq, node uint32) string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], uint64(ms))
	binary.BigEndian.PutUint32(b[8:12], seq)
	binary.BigEndian.PutUint32(b[12:], node)
	return hex.EncodeToString(b[:])
}
