package session

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator issues session identifiers.
type Generator struct {
	issued uint64
}

// NewGenerator returns a generator with nothing issued yet.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns a new random session identifier.
func (g *Generator) Next() string {
	atomic.AddUint64(&g.issued, 1)
	return uuid.NewString()
}

// Issued returns how many identifiers were handed out.
func (g *Generator) Issued() uint64 {
	return atomic.LoadUint64(&g.issued)
}
