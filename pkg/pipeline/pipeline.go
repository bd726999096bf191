package pipeline

import (
	"fmt"
	"sync"

	"logcore/pkg/errors"
)

// ID indexes one pipe in a Pipeline's arena. Neighbors are referred to by
// ID rather than by pointer so the graph has no cyclic Go references for
// the GC to reason about and so Deinit can walk a plain topological order
// computed over integers (§9: "replace [cyclic back-references] with
// arena+index: a single Pipeline owner holds all pipes in a vector, pipes
// refer to neighbors by index, the arena provides lifetime").
type ID int

// Pipeline owns every pipe in a configured graph and the edges between
// them. It is the sole holder of each Pipe value; nothing outside this
// package keeps a Pipe reference across a config reload, which is what
// lets Clone/reload replace a pipe in place without chasing pointers.
type Pipeline struct {
	mu    sync.Mutex
	pipes []Pipe
	edges map[ID][]ID

	initialized bool
	order       []ID // topological order computed at Init time
}

// New creates an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{edges: make(map[ID][]ID)}
}

// Add appends pipe to the arena and returns its stable ID.
func (p *Pipeline) Add(pipe Pipe) ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := ID(len(p.pipes))
	p.pipes = append(p.pipes, pipe)
	return id
}

// Connect records a downstream edge from -> to. Both IDs must already be
// in the arena.
func (p *Pipeline) Connect(from, to ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edges[from] = append(p.edges[from], to)
}

// Pipe returns the pipe at id.
func (p *Pipeline) Pipe(id ID) Pipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pipes[id]
}

// Len reports how many pipes the arena holds.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pipes)
}

// NotifyAll delivers event to every pipe in the arena, in ID order. It is
// the broadcast counterpart of a single pipe's Notify — used for
// control-plane events with no single natural target, such as an
// external file-rotation signal that any file-backed pipe might care
// about.
func (p *Pipeline) NotifyAll(event Event) {
	p.mu.Lock()
	pipes := make([]Pipe, len(p.pipes))
	copy(pipes, p.pipes)
	p.mu.Unlock()

	for _, pipe := range pipes {
		pipe.Notify(event)
	}
}

// Init calls Init(config) on every pipe in topological order (sources
// before the destinations they feed), so a downstream pipe is always
// ready to accept Queue calls before anything upstream of it starts
// running. configFor supplies each pipe's config by ID.
func (p *Pipeline) Init(configFor func(ID) interface{}) error {
	p.mu.Lock()
	order, err := p.topoOrderLocked()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.order = order
	pipes := p.pipes
	p.mu.Unlock()

	for _, id := range order {
		if err := pipes[id].Init(configFor(id)); err != nil {
			return errors.Config("pipeline.Init", fmt.Sprintf("pipe %d", id)).Wrap(err)
		}
	}

	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	return nil
}

// Deinit walks the arena in reverse topological order (destinations
// drain before the sources feeding them are torn down) and calls Deinit
// on every pipe, collecting but not stopping on individual errors so a
// failure in one pipe's teardown doesn't strand the rest.
func (p *Pipeline) Deinit() error {
	p.mu.Lock()
	order := p.order
	pipes := p.pipes
	p.mu.Unlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if err := pipes[id].Deinit(); err != nil {
			if firstErr == nil {
				firstErr = errors.Config("pipeline.Deinit", fmt.Sprintf("pipe %d", id)).Wrap(err)
			}
		}
	}
	return firstErr
}

// topoOrderLocked computes a topological order of the arena via
// depth-first postorder, reversed. Callers must hold p.mu.
func (p *Pipeline) topoOrderLocked() ([]ID, error) {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(p.pipes))
	var order []ID
	var visit func(ID) error
	visit = func(id ID) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("pipeline: cycle detected at pipe %d", id)
		}
		color[id] = gray
		for _, next := range p.edges[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}

	for id := range p.pipes {
		if err := visit(ID(id)); err != nil {
			return nil, err
		}
	}

	// visit appends in postorder (a pipe after everything it feeds);
	// reverse so sources precede their destinations.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}
