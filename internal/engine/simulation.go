// Simulation ties nodes, the shared registry, and the occupancy broadcaster
// together and exposes read-only views for observers.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
	"github.com/talgya/swim-mobility/internal/mobility"
	"github.com/talgya/swim-mobility/internal/occupancy"
)

// maxEvents bounds the recent-step log.
const maxEvents = 1000

// Simulation holds the complete run state.
type Simulation struct {
	RunID       string
	Model       *mobility.Model
	Registry    *locations.Registry
	Broadcaster *occupancy.Broadcaster

	mu         sync.RWMutex
	nodes      []*mobility.Node
	segments   []Segment
	nextEvents []float64
	events     []Event
	lastTime   float64
	stats      SimStats
}

// Event is one executed node step.
type Event struct {
	Time     float64    `json:"time"`
	NodeID   int        `json:"node_id"`
	Kind     string     `json:"kind"`
	Target   geom.Coord `json:"target"`
	Anchor   geom.Coord `json:"anchor"`
	Duration float64    `json:"duration"`
}

// SimStats tracks aggregate run statistics.
type SimStats struct {
	Moves         int     `json:"moves"`
	Waits         int     `json:"waits"`
	HomeReturns   int     `json:"home_returns"`
	SentinelMoves int     `json:"sentinel_moves"`
	Distance      float64 `json:"distance"`
	AdjustMisses  int64   `json:"adjust_misses"`
}

// NodeView is an observer-facing snapshot of one node.
type NodeView struct {
	ID        int        `json:"id"`
	State     string     `json:"state"`
	Position  geom.Coord `json:"position"`
	Home      geom.Coord `json:"home"`
	Target    geom.Coord `json:"target"`
	Anchor    geom.Coord `json:"anchor"`
	NextEvent float64    `json:"next_event"`
}

// NewSimulation creates a simulation. Every node is due at time 0 unless
// nextEvents supplies restored times (indexed like nodes).
func NewSimulation(model *mobility.Model, reg *locations.Registry, nodes []*mobility.Node, nextEvents []float64) *Simulation {
	s := &Simulation{
		Model:       model,
		Registry:    reg,
		Broadcaster: occupancy.NewBroadcaster(reg),
		nodes:       nodes,
		segments:    make([]Segment, len(nodes)),
		nextEvents:  make([]float64, len(nodes)),
	}
	for i, n := range nodes {
		s.segments[i] = Segment{From: n.LastPosition, To: n.LastPosition}
		if i < len(nextEvents) {
			s.nextEvents[i] = nextEvents[i]
		}
	}
	return s
}

// Attach queues every node on sched and routes its events to StepNode.
func (s *Simulation) Attach(sched *Scheduler) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched.Now = s.lastTime
	sched.OnEvent = s.StepNode
	for i := range s.nodes {
		sched.Schedule(i, s.nextEvents[i])
	}
}

// StepNode runs one decision for node i and returns its next event time.
func (s *Simulation) StepNode(i int, now float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.nodes[i]
	res := n.Step(now, s.Registry, s.Broadcaster)

	s.lastTime = now
	s.nextEvents[i] = res.NextEvent
	s.segments[i] = Segment{From: res.From, To: res.Target, Start: now, End: res.NextEvent}

	switch res.Kind {
	case mobility.StepWait:
		s.stats.Waits++
	case mobility.StepHome:
		s.stats.HomeReturns++
	case mobility.StepSentinel:
		s.stats.SentinelMoves++
	}
	if res.Kind != mobility.StepWait {
		s.stats.Moves++
		s.stats.Distance += geom.Distance(res.From, res.Target)
	}

	s.events = append(s.events, Event{
		Time:     now,
		NodeID:   n.ID,
		Kind:     res.Kind.String(),
		Target:   res.Target,
		Anchor:   res.Anchor,
		Duration: res.Duration,
	})
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}

	slog.Debug("node step", "node", n.ID, "time", now, "kind", res.Kind, "target", res.Target, "next", res.NextEvent)
	return res.NextEvent
}

// CurrentTime returns the time of the most recently processed event.
func (s *Simulation) CurrentTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTime
}

// SetCurrentTime sets the clock when resuming a saved run.
func (s *Simulation) SetCurrentTime(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTime = t
}

// NodeCount returns the population size.
func (s *Simulation) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Stats returns a copy of the run statistics.
func (s *Simulation) Stats() SimStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	st.AdjustMisses = s.Broadcaster.Misses()
	return st
}

// Nodes returns a view of every node, positioned at time t.
func (s *Simulation) Nodes(t float64) []NodeView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NodeView, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = NodeView{
			ID:        n.ID,
			State:     n.State.String(),
			Position:  s.segments[i].PositionAt(t),
			Home:      n.Home(),
			Target:    n.Target,
			Anchor:    n.LastAnchor,
			NextEvent: s.nextEvents[i],
		}
	}
	return out
}

// RecentEvents returns up to limit of the latest steps, newest last.
func (s *Simulation) RecentEvents(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// Snapshots captures every node's decision state with its next event time.
func (s *Simulation) Snapshots() ([]mobility.Snapshot, []float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]mobility.Snapshot, len(s.nodes))
	next := make([]float64, len(s.nodes))
	for i, n := range s.nodes {
		snaps[i] = n.Snapshot()
		next[i] = s.nextEvents[i]
	}
	return snaps, next
}

// Capture is a consistent copy of everything needed to resume a run.
type Capture struct {
	Locations  []locations.Location
	Nodes      []mobility.Snapshot
	NextEvents []float64
	Time       float64
}

// Capture copies registry occupancy, node state, and the clock under one
// lock. StepNode updates the registry while holding the same lock, so the
// copy never shows a half-applied step.
func (s *Simulation) Capture() Capture {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Capture{
		Locations:  s.Registry.Locations(),
		Nodes:      make([]mobility.Snapshot, len(s.nodes)),
		NextEvents: make([]float64, len(s.nodes)),
		Time:       s.lastTime,
	}
	for i, n := range s.nodes {
		c.Nodes[i] = n.Snapshot()
		c.NextEvents[i] = s.nextEvents[i]
	}
	return c
}

// Report logs a periodic summary.
func (s *Simulation) Report(now float64) {
	st := s.Stats()
	occupied := 0
	for _, l := range s.Registry.Locations() {
		if l.Occupancy > 0 {
			occupied++
		}
	}

	slog.Info("periodic report",
		"time", SimTime(now),
		"nodes", s.NodeCount(),
		"moves", humanize.Comma(int64(st.Moves)),
		"waits", humanize.Comma(int64(st.Waits)),
		"home_returns", humanize.Comma(int64(st.HomeReturns)),
		"sentinel_moves", st.SentinelMoves,
		"distance", humanize.CommafWithDigits(st.Distance, 1),
		"occupied_locations", fmt.Sprintf("%d/%d", occupied, s.Registry.Len()),
		"attributed", s.Registry.Total(),
		"adjust_misses", st.AdjustMisses,
	)
}
