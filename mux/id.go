package mux

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator produces channel identifiers. Implementations must be safe
// for concurrent use.
type IDGenerator interface {
	NextID() uint64
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() uint64

func (f IDGeneratorFunc) NextID() uint64 {
	return f()
}

// Sequence is a monotonic counter. Peers sharing a connection should use
// different parities (start 1 and start 2 with step 2) so that ids opened
// from either side never collide.
type Sequence struct {
	next uint64
	step uint64
}

// NewSequence returns a Sequence yielding start, start+step, start+2*step...
// A zero step is treated as 1.
func NewSequence(start, step uint64) *Sequence {
	if step == 0 {
		step = 1
	}
	return &Sequence{next: start - step, step: step}
}

func (s *Sequence) NextID() uint64 {
	return atomic.AddUint64(&s.next, s.step)
}

type xidGenerator struct{}

// NewXIDGenerator returns a generator deriving ids from globally unique
// xids. The low 24 bits of the xid timestamp, the process id and the xid
// counter are folded into 64 bits, so ids are unique within a process and
// very unlikely to collide with those of another process.
func NewXIDGenerator() IDGenerator {
	return xidGenerator{}
}

func (xidGenerator) NextID() uint64 {
	id := xid.New()
	ts := uint64(id.Time().Unix()) & 0xffffff
	return ts<<40 | uint64(id.Pid())<<24 | uint64(id.Counter())&0xffffff
}
