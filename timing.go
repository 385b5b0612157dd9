package pyre

import (
	"time"

	"github.com/gogpu/pyre/gfx"
)

// TimedNode is one scope in a frame's timing tree, with the CPU time
// spent recording it and the GPU time spent executing it.
type TimedNode struct {
	Name     string
	CPU      time.Duration
	GPU      time.Duration
	Children []*TimedNode

	timestamp gfx.TimestampID
	start     time.Time
}

// find returns the named direct child, or nil.
func (n *TimedNode) find(name string) *TimedNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Profiler measures named scopes on both timelines each frame. CPU
// durations are available immediately; GPU durations come from
// timestamp queries that resolve a few frames later, so the tree
// returned by Tree is the most recent frame whose GPU results have
// completed, not the frame currently being recorded.
type Profiler struct {
	dev gfx.Device

	current *TimedNode   // root of the frame being recorded
	stack   []*TimedNode // open scopes, current is stack[0]

	pending  []*TimedNode // frames waiting on GPU timestamp results
	resolved *TimedNode   // newest fully resolved frame

	frameTimes Graph // resolved frame CPU times, in milliseconds
}

func newProfiler(dev gfx.Device) *Profiler {
	return &Profiler{dev: dev}
}

// Scope is an open profiler scope. Calling End closes it.
type Scope struct {
	p    *Profiler
	node *TimedNode
}

// beginFrame opens the root scope for a new frame.
func (p *Profiler) beginFrame() {
	p.current = &TimedNode{
		Name:      "Frame",
		start:     time.Now(),
		timestamp: p.dev.BeginTimestamp("Frame"),
	}
	p.stack = p.stack[:0]
	p.stack = append(p.stack, p.current)
}

// Begin opens a named scope nested in the innermost open scope. Every
// Begin must be paired with End on the returned Scope before the frame
// ends.
func (p *Profiler) Begin(name string) *Scope {
	parent := p.stack[len(p.stack)-1]
	node := &TimedNode{
		Name:      name,
		start:     time.Now(),
		timestamp: p.dev.BeginTimestamp(name),
	}
	parent.Children = append(parent.Children, node)
	p.stack = append(p.stack, node)
	p.dev.BeginEvent(name)
	return &Scope{p: p, node: node}
}

// End closes the scope.
func (s *Scope) End() {
	p := s.p
	s.node.CPU = time.Since(s.node.start)
	p.dev.EndTimestamp(s.node.timestamp)
	p.dev.EndEvent()
	// Unbalanced Ends are a programming error in a technique; drop back
	// to the matching depth rather than corrupt the tree.
	for len(p.stack) > 1 {
		top := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		if top == s.node {
			break
		}
	}
}

// endFrame closes the frame root and resolves any older frames whose
// GPU timestamps have become available.
func (p *Profiler) endFrame() {
	root := p.current
	root.CPU = time.Since(root.start)
	p.dev.EndTimestamp(root.timestamp)
	p.current = nil
	p.stack = p.stack[:0]

	p.pending = append(p.pending, root)
	for len(p.pending) > 0 {
		if !p.resolveGPU(p.pending[0]) {
			break
		}
		p.resolved = p.pending[0]
		p.pending = p.pending[1:]
		p.frameTimes.AddValue(float64(p.resolved.CPU) / float64(time.Millisecond))
	}
	// A frame older than the in-flight bound that still has no results
	// will never get them; don't let the queue grow without bound.
	if len(p.pending) > gfx.InFlightFrames {
		p.resolved = p.pending[0]
		p.pending = p.pending[1:]
		p.frameTimes.AddValue(float64(p.resolved.CPU) / float64(time.Millisecond))
	}
}

// resolveGPU fills in GPU durations for the whole tree. Returns false
// if any query result is not yet available.
func (p *Profiler) resolveGPU(n *TimedNode) bool {
	if n.timestamp.Valid() {
		d, ok := p.dev.TimestampResult(n.timestamp)
		if !ok {
			return false
		}
		n.GPU = d
	}
	for _, c := range n.Children {
		if !p.resolveGPU(c) {
			return false
		}
	}
	return true
}

// Tree returns the timing tree of the most recent frame whose GPU
// measurements have resolved, or nil before the first frame completes.
func (p *Profiler) Tree() *TimedNode {
	return p.resolved
}

// FrameTimes returns the rolling history of resolved frame CPU times
// in milliseconds.
func (p *Profiler) FrameTimes() *Graph {
	return &p.frameTimes
}

// reset drops all recorded and pending frames. Used when the active
// renderer changes so stale scopes don't linger in the tree.
func (p *Profiler) reset() {
	p.current = nil
	p.stack = p.stack[:0]
	p.pending = nil
	p.resolved = nil
	p.frameTimes.Reset()
}
