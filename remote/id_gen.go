package remote

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// frameIDGenerator generates request frame IDs.
//
// The starting ID is random so that IDs of a reconnected client do not collide with replies
// still in flight for an earlier connection. Zero is never returned, it marks event frames.
type frameIDGenerator struct {
	id atomic.Uint32
}

func newFrameIDGenerator() *frameIDGenerator {
	gen := &frameIDGenerator{}
	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return gen
	}
	gen.id.Store(binary.LittleEndian.Uint32(buf[:]))

	return gen
}

func (g *frameIDGenerator) next() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}
