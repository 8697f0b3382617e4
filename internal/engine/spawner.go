// Node spawning: places the initial population and binds each node to its
// own random stream.
package engine

import (
	"fmt"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/mobility"
	"github.com/talgya/swim-mobility/internal/rng"
)

// Spawner creates nodes for the simulation.
type Spawner struct {
	streams *rng.Streams
	stream  *rng.Stream
	model   *mobility.Model
	nextID  int
}

// NewSpawner creates a spawner drawing start positions from the "spawn" stream.
func NewSpawner(streams *rng.Streams, model *mobility.Model) *Spawner {
	return &Spawner{
		streams: streams,
		stream:  streams.Get("spawn"),
		model:   model,
	}
}

// Spawn creates count nodes at uniform positions inside the model's area.
// Each node's Home is its start position.
func (s *Spawner) Spawn(count int) []*mobility.Node {
	nodes := make([]*mobility.Node, 0, count)
	area := s.model.Params.Area
	for i := 0; i < count; i++ {
		start := geom.Coord{
			X: s.stream.Uniform(0, area.X),
			Y: s.stream.Uniform(0, area.Y),
			Z: s.stream.Uniform(0, area.Z),
		}
		nodes = append(nodes, s.spawnAt(start))
	}
	return nodes
}

func (s *Spawner) spawnAt(start geom.Coord) *mobility.Node {
	id := s.nextID
	s.nextID++
	return mobility.NewNode(id, start, s.model, s.streams.Get(NodeStream(id)))
}

// Restore rebuilds nodes from snapshots and moves the ID counter past them.
func (s *Spawner) Restore(snaps []mobility.Snapshot) []*mobility.Node {
	nodes := make([]*mobility.Node, 0, len(snaps))
	for _, snap := range snaps {
		nodes = append(nodes, mobility.RestoreNode(snap, s.model, s.streams.Get(NodeStream(snap.ID))))
		if snap.ID >= s.nextID {
			s.nextID = snap.ID + 1
		}
	}
	return nodes
}

// NodeStream names the random stream owned by node id.
func NodeStream(id int) string {
	return fmt.Sprintf("node/%d", id)
}
