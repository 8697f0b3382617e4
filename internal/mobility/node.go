// Per-node decision state machine. Every invocation alternates between a
// wait step and a move step; moves either return Home or pick a weighted
// destination, and transfer the node's occupancy from the old anchor to the
// new one.
package mobility

import (
	"fmt"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
	"github.com/talgya/swim-mobility/internal/occupancy"
	"github.com/talgya/swim-mobility/internal/rng"
)

// State is the phase the next invocation runs.
type State uint8

const (
	StateMoving State = iota
	StateWaiting
)

// String returns the state name.
func (s State) String() string {
	if s == StateWaiting {
		return "waiting"
	}
	return "moving"
}

// StepKind describes what a single invocation did.
type StepKind uint8

const (
	StepWait     StepKind = iota // paused in place
	StepMove                     // moved toward a weighted destination
	StepHome                     // returned home
	StepSentinel                 // no candidate location; zero-distance fallback target
)

// String returns the step kind name.
func (k StepKind) String() string {
	switch k {
	case StepMove:
		return "move"
	case StepHome:
		return "home"
	case StepSentinel:
		return "sentinel"
	default:
		return "wait"
	}
}

// RegistryView is the read side of the shared location registry.
type RegistryView interface {
	Locations() []locations.Location
}

// Publisher carries occupancy changes to the shared registry.
type Publisher interface {
	Publish(d occupancy.Delta) locations.Outcome
}

// StepResult is handed to the motion and scheduling layers.
type StepResult struct {
	Kind      StepKind
	From      geom.Coord
	Target    geom.Coord
	Anchor    geom.Coord
	Duration  float64
	NextEvent float64
}

// Node is the decision state of one mobile agent.
type Node struct {
	ID           int
	LastPosition geom.Coord
	Target       geom.Coord
	LastAnchor   geom.Coord
	State        State
	FirstStep    bool

	home   geom.Coord
	model  *Model
	stream *rng.Stream
}

// NewNode creates a node whose Home is its starting position.
func NewNode(id int, start geom.Coord, model *Model, stream *rng.Stream) *Node {
	return &Node{
		ID:           id,
		LastPosition: start,
		Target:       start,
		State:        StateMoving,
		FirstStep:    true,
		home:         start,
		model:        model,
		stream:       stream,
	}
}

// Snapshot is the persistable part of a node.
type Snapshot struct {
	ID           int
	Home         geom.Coord
	LastPosition geom.Coord
	Target       geom.Coord
	LastAnchor   geom.Coord
	State        State
	FirstStep    bool
}

// Snapshot captures the node's decision state.
func (n *Node) Snapshot() Snapshot {
	return Snapshot{
		ID:           n.ID,
		Home:         n.home,
		LastPosition: n.LastPosition,
		Target:       n.Target,
		LastAnchor:   n.LastAnchor,
		State:        n.State,
		FirstStep:    n.FirstStep,
	}
}

// RestoreNode rebuilds a node from a snapshot.
func RestoreNode(s Snapshot, model *Model, stream *rng.Stream) *Node {
	return &Node{
		ID:           s.ID,
		LastPosition: s.LastPosition,
		Target:       s.Target,
		LastAnchor:   s.LastAnchor,
		State:        s.State,
		FirstStep:    s.FirstStep,
		home:         s.Home,
		model:        model,
		stream:       stream,
	}
}

// Home returns the node's fixed reference location.
func (n *Node) Home() geom.Coord { return n.home }

// String identifies the node in logs.
func (n *Node) String() string {
	return fmt.Sprintf("node %d (%s)", n.ID, n.State)
}

// Step runs one invocation at simulated time now.
func (n *Node) Step(now float64, view RegistryView, pub Publisher) StepResult {
	if n.State == StateWaiting {
		return n.wait(now)
	}
	return n.move(now, view, pub)
}

func (n *Node) wait(now float64) StepResult {
	d := n.model.Params.WaitTime.Draw(n.stream)
	n.State = StateMoving
	return StepResult{
		Kind:      StepWait,
		From:      n.LastPosition,
		Target:    n.LastPosition,
		Anchor:    n.LastAnchor,
		Duration:  d,
		NextEvent: now + d,
	}
}

func (n *Node) move(now float64, view RegistryView, pub Publisher) StepResult {
	p := n.model.Params

	kind := StepHome
	target, anchor := n.home, n.home
	if n.stream.Float64() >= p.ReturnHomePercentage/100 {
		weighted := n.model.Weights.Compute(n.home, view.Locations())
		neighbors, visiting := Partition(weighted, p.NeighbourLocationLimit)

		var ok bool
		target, anchor, ok = n.model.Selector.Decide(n.stream, neighbors, visiting)
		kind = StepMove
		if !ok {
			kind = StepSentinel
		}
	}

	if !n.FirstStep {
		pub.Publish(occupancy.NewDelta(n.ID, now, n.LastAnchor, occupancy.Decrement))
	}
	pub.Publish(occupancy.NewDelta(n.ID, now, anchor, occupancy.Increment))

	from := n.LastPosition
	d := geom.Distance(target, from) / p.Speed

	n.LastPosition = target
	n.Target = target
	n.LastAnchor = anchor
	n.FirstStep = false
	n.State = StateWaiting

	return StepResult{
		Kind:      kind,
		From:      from,
		Target:    target,
		Anchor:    anchor,
		Duration:  d,
		NextEvent: now + d,
	}
}
