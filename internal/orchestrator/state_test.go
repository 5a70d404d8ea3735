package orchestrator

import "testing"

func TestTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		ev   EventKind
		want State
	}{
		{"start", State{Total: 2}, EventStart, State{Phase: PhaseAttempting, Total: 2}},
		{"start without candidates", State{Total: 0}, EventStart, State{Phase: PhaseAllFailed}},
		{"idle ignores failure", State{Total: 2}, EventFailure, State{Total: 2}},
		{"reply succeeds", State{Phase: PhaseAttempting, Total: 2}, EventReply, State{Phase: PhaseSuccess, Total: 2}},
		{"tool calls", State{Phase: PhaseAttempting, Candidate: 1, Total: 2}, EventToolCalls, State{Phase: PhaseToolRound, Candidate: 1, Total: 2}},
		{"tool round reply", State{Phase: PhaseToolRound, Candidate: 1, Total: 2}, EventReply, State{Phase: PhaseSuccess, Candidate: 1, Total: 2}},
		{"failure queues next candidate", State{Phase: PhaseAttempting, Total: 2}, EventFailure, State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}},
		{"tool round failure queues next candidate", State{Phase: PhaseToolRound, Total: 2}, EventFailure, State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}},
		{"advance attempts next candidate", State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}, EventAdvance, State{Phase: PhaseAttempting, Candidate: 1, Total: 2}},
		{"next candidate ignores reply", State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}, EventReply, State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}},
		{"next candidate ignores failure", State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}, EventFailure, State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}},
		{"attempting ignores advance", State{Phase: PhaseAttempting, Total: 2}, EventAdvance, State{Phase: PhaseAttempting, Total: 2}},
		{"last failure exhausts", State{Phase: PhaseAttempting, Candidate: 1, Total: 2}, EventFailure, State{Phase: PhaseAllFailed, Candidate: 1, Total: 2}},
		{"success is terminal", State{Phase: PhaseSuccess, Total: 2}, EventFailure, State{Phase: PhaseSuccess, Total: 2}},
		{"all failed is terminal", State{Phase: PhaseAllFailed, Total: 2}, EventStart, State{Phase: PhaseAllFailed, Total: 2}},
		{"attempting ignores start", State{Phase: PhaseAttempting, Total: 2}, EventStart, State{Phase: PhaseAttempting, Total: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transition(tt.from, Event{Kind: tt.ev}); got != tt.want {
				t.Errorf("Transition(%v, %v) = %+v, want %+v", tt.from, tt.ev, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if got := (State{Phase: PhaseAttempting, Candidate: 0, Total: 2}).String(); got != "attempting(1/2)" {
		t.Errorf("got %q", got)
	}
	if got := (State{Phase: PhaseNextCandidate, Candidate: 1, Total: 2}).String(); got != "next_candidate(2/2)" {
		t.Errorf("got %q", got)
	}
	if got := (State{Phase: PhaseSuccess}).String(); got != "success" {
		t.Errorf("got %q", got)
	}
}
