package download

import (
	"fmt"

	"github.com/taehunt/careerbooks-backend/internal/fault"
)

// State is a step of one download request. Completed and Failed are the
// only terminal states.
type State int

const (
	Start State = iota
	OriginChecked
	FreePath
	Authenticated
	Entitled
	Located
	Streaming
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case OriginChecked:
		return "origin_checked"
	case FreePath:
		return "free_path"
	case Authenticated:
		return "authenticated"
	case Entitled:
		return "entitled"
	case Located:
		return "located"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool { return s == Completed || s == Failed }

var transitions = map[State][]State{
	Start:         {OriginChecked},
	OriginChecked: {FreePath, Authenticated},
	FreePath:      {Located},
	Authenticated: {Entitled},
	Entitled:      {Located},
	Located:       {Streaming},
	Streaming:     {Completed},
}

// Progress tracks a request through the state machine. The zero value is
// at Start.
type Progress struct {
	state State
	kind  fault.Kind
	err   error
}

func (p *Progress) State() State { return p.state }

// Kind is the failure class once the request has Failed.
func (p *Progress) Kind() fault.Kind { return p.kind }

func (p *Progress) Err() error { return p.err }

// Advance moves to the next state. Skipping a step or leaving a terminal
// state is an error.
func (p *Progress) Advance(to State) error {
	for _, next := range transitions[p.state] {
		if next == to {
			p.state = to
			return nil
		}
	}
	return fmt.Errorf("download: illegal transition %s -> %s", p.state, to)
}

// Fail short-circuits to Failed from any non-terminal state and returns err
// for convenience.
func (p *Progress) Fail(err error) error {
	if p.state.Terminal() {
		return err
	}
	p.state = Failed
	p.kind = fault.KindOf(err)
	p.err = err
	return err
}

// step advances or panics. The sequence is fixed in code, so an illegal
// transition is a bug.
func (p *Progress) step(to State) {
	if err := p.Advance(to); err != nil {
		panic(err)
	}
}
