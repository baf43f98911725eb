package entities

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from SessionState
		to   SessionState
		want bool
	}{
		{"connect handshake", SessionStateDisconnected, SessionStateConnecting, true},
		{"handshake completes", SessionStateConnecting, SessionStateIdle, true},
		{"start capture", SessionStateIdle, SessionStateListening, true},
		{"text interaction skips listening", SessionStateIdle, SessionStateProcessing, true},
		{"capture ends", SessionStateListening, SessionStateProcessing, true},
		{"capture aborted", SessionStateListening, SessionStateIdle, true},
		{"tool call", SessionStateProcessing, SessionStateExecuting, true},
		{"first audio", SessionStateProcessing, SessionStateSpeaking, true},
		{"silent reply", SessionStateProcessing, SessionStateIdle, true},
		{"tool result resumes reasoning", SessionStateExecuting, SessionStateProcessing, true},
		{"playback ends", SessionStateSpeaking, SessionStateIdle, true},
		{"error recovery", SessionStateError, SessionStateIdle, true},

		{"error from anywhere", SessionStateSpeaking, SessionStateError, true},
		{"disconnect from anywhere", SessionStateExecuting, SessionStateDisconnected, true},

		{"no double start", SessionStateListening, SessionStateListening, false},
		{"idle cannot speak", SessionStateIdle, SessionStateSpeaking, false},
		{"speaking cannot regress", SessionStateSpeaking, SessionStateProcessing, false},
		{"executing cannot idle directly", SessionStateExecuting, SessionStateIdle, false},
		{"disconnected cannot idle", SessionStateDisconnected, SessionStateIdle, false},
		{"error cannot resume mid-flight", SessionStateError, SessionStateProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionTo(t *testing.T) {
	s := NewSession("s1", "u1", RoleMember, false)
	if s.State != SessionStateDisconnected {
		t.Fatalf("new session state = %s, want disconnected", s.State)
	}

	if err := s.TransitionTo(SessionStateConnecting); err != nil {
		t.Fatalf("TransitionTo(connecting): %v", err)
	}
	if err := s.TransitionTo(SessionStateIdle); err != nil {
		t.Fatalf("TransitionTo(idle): %v", err)
	}

	if err := s.TransitionTo(SessionStateSpeaking); err == nil {
		t.Fatal("expected invalid transition idle -> speaking")
	}
	if s.State != SessionStateIdle {
		t.Errorf("failed transition moved state to %s", s.State)
	}
}

func TestTranscriptAccumulator(t *testing.T) {
	s := NewSession("s1", "u1", RoleMember, false)

	if got := s.AppendDelta("The answer "); got != "The answer " {
		t.Errorf("AppendDelta = %q", got)
	}
	if got := s.AppendDelta("is 42."); got != "The answer is 42." {
		t.Errorf("AppendDelta = %q", got)
	}

	if got := s.FlushTranscript(); got != "The answer is 42." {
		t.Errorf("FlushTranscript = %q", got)
	}
	if got := s.FlushTranscript(); got != "" {
		t.Errorf("second FlushTranscript = %q, want empty", got)
	}
}

func TestFlushPrefersFinalText(t *testing.T) {
	s := NewSession("s1", "u1", RoleMember, false)

	s.AppendDelta("draft text")
	s.SetFinalText("polished text")

	if got := s.FlushTranscript(); got != "polished text" {
		t.Errorf("FlushTranscript = %q, want final text", got)
	}
}

func TestTruncateTranscript(t *testing.T) {
	s := NewSession("s1", "u1", RoleMember, false)

	s.AppendDelta("interrupted reply")
	s.SetFinalText("interrupted reply")
	s.TruncateTranscript()

	if got := s.FlushTranscript(); got != "" {
		t.Errorf("FlushTranscript after truncate = %q, want empty", got)
	}
}

func TestRecordTurn(t *testing.T) {
	s := NewSession("s1", "u1", RoleMember, false)

	s.RecordTurn("user", "hello")
	s.RecordTurn("agent", "")
	s.RecordTurn("agent", "hi there")

	if len(s.Turns) != 2 {
		t.Fatalf("len(Turns) = %d, want 2 (empty content skipped)", len(s.Turns))
	}
	if s.Turns[0].Role != "user" || s.Turns[0].Content != "hello" {
		t.Errorf("turn 0 = %+v", s.Turns[0])
	}
	if s.Turns[1].Role != "agent" || s.Turns[1].Content != "hi there" {
		t.Errorf("turn 1 = %+v", s.Turns[1])
	}
	if s.Turns[0].Timestamp.IsZero() {
		t.Error("turn timestamp not set")
	}
}
