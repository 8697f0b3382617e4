// Package rng provides named, explicitly seeded random streams so that every
// stochastic draw in a run can be reproduced from the run seed.
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	mrand "math/rand"
	"sync"
)

// Stream is a deterministic source of uniform draws bound to a name.
// A Stream is not safe for concurrent use; each consumer owns its own.
type Stream struct {
	name string
	seed int64
	r    *mrand.Rand
}

// NewStream creates a stream seeded with seed.
func NewStream(name string, seed int64) *Stream {
	return &Stream{
		name: name,
		seed: seed,
		r:    mrand.New(mrand.NewSource(seed)),
	}
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// Seed returns the seed the stream was created with.
func (s *Stream) Seed() int64 { return s.seed }

// Float64 returns a uniform value in [0, 1).
func (s *Stream) Float64() float64 {
	return s.r.Float64()
}

// Uniform returns a uniform value in [a, b).
func (s *Stream) Uniform(a, b float64) float64 {
	return a + (b-a)*s.r.Float64()
}

// IntUniform returns a uniform integer in [a, b], both ends inclusive.
// An empty range yields a.
func (s *Stream) IntUniform(a, b int) int {
	if b <= a {
		return a
	}
	return a + s.r.Intn(b-a+1)
}

// Exponential returns an exponentially distributed value with the given mean.
func (s *Stream) Exponential(mean float64) float64 {
	return s.r.ExpFloat64() * mean
}

// Streams hands out named streams derived from a single run seed. The same
// run seed and name always produce the same stream.
type Streams struct {
	seed int64

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewStreams creates a stream registry. A zero seed picks one from
// crypto/rand and logs it so the run can be replayed.
func NewStreams(seed int64) *Streams {
	if seed == 0 {
		seed = cryptoSeed()
		slog.Info("no seed configured, picked one", "seed", seed)
	}
	return &Streams{
		seed:    seed,
		streams: make(map[string]*Stream),
	}
}

// Seed returns the run seed.
func (st *Streams) Seed() int64 { return st.seed }

// Get returns the stream registered under name, creating it on first use.
func (st *Streams) Get(name string) *Stream {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.streams[name]; ok {
		return s
	}
	s := NewStream(name, DeriveSeed(st.seed, name))
	st.streams[name] = s
	return s
}

// DeriveSeed mixes a run seed with a stream name.
func DeriveSeed(seed int64, name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	derived := seed ^ int64(h.Sum64())
	if derived == 0 {
		derived = 1
	}
	return derived
}

func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	seed := int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
