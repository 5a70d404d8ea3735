package orchestrator

import "fmt"

// Phase is where a request is in the candidate loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAttempting
	PhaseToolRound
	PhaseNextCandidate
	PhaseSuccess
	PhaseAllFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAttempting:
		return "attempting"
	case PhaseToolRound:
		return "tool_round"
	case PhaseNextCandidate:
		return "next_candidate"
	case PhaseSuccess:
		return "success"
	case PhaseAllFailed:
		return "all_failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further events change the phase.
func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseAllFailed
}

// EventKind is what happened to the current attempt.
type EventKind int

const (
	EventStart     EventKind = iota // begin with the first candidate
	EventToolCalls                  // completion asked for tools
	EventReply                      // a usable reply was produced
	EventFailure                    // the attempt failed; move on
	EventAdvance                    // begin the pending next candidate
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventToolCalls:
		return "tool_calls"
	case EventReply:
		return "reply"
	case EventFailure:
		return "failure"
	case EventAdvance:
		return "advance"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event drives Transition.
type Event struct {
	Kind EventKind
}

// State is the loop position. Candidate indexes the candidate list and is
// meaningful in the attempting, tool-round and next-candidate phases; in the
// last it names the candidate about to be tried.
type State struct {
	Phase     Phase
	Candidate int
	Total     int
}

func (s State) String() string {
	switch s.Phase {
	case PhaseAttempting, PhaseToolRound, PhaseNextCandidate:
		return fmt.Sprintf("%s(%d/%d)", s.Phase, s.Candidate+1, s.Total)
	default:
		return s.Phase.String()
	}
}

// Transition returns the state after e. It is pure; events that do not apply
// to the current phase leave the state unchanged.
func Transition(s State, e Event) State {
	if s.Phase.Terminal() {
		return s
	}
	switch s.Phase {
	case PhaseIdle:
		if e.Kind != EventStart {
			return s
		}
		if s.Total <= 0 {
			return State{Phase: PhaseAllFailed, Total: s.Total}
		}
		return State{Phase: PhaseAttempting, Candidate: 0, Total: s.Total}

	case PhaseAttempting, PhaseToolRound:
		switch e.Kind {
		case EventToolCalls:
			if s.Phase == PhaseAttempting {
				s.Phase = PhaseToolRound
			}
			return s
		case EventReply:
			s.Phase = PhaseSuccess
			return s
		case EventFailure:
			if next := s.Candidate + 1; next < s.Total {
				return State{Phase: PhaseNextCandidate, Candidate: next, Total: s.Total}
			}
			s.Phase = PhaseAllFailed
			return s
		}

	case PhaseNextCandidate:
		if e.Kind == EventAdvance {
			s.Phase = PhaseAttempting
		}
		return s
	}
	return s
}
