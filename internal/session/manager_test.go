package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusActive || len(got.Turns) != 0 {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestTurnGuardSerializes(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()

	if err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	if err := m.BeginTurn(s.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("second BeginTurn() error = %v, want ErrBusy", err)
	}
	m.FinishTurn(s.ID)
	if err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() after release error = %v", err)
	}
}

func TestAppendUserTurnDedupesUnansweredRetry(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()

	first, appended, err := m.AppendUserTurn(s.ID, "price kya hai")
	if err != nil || !appended {
		t.Fatalf("first AppendUserTurn() = (%v, %v)", appended, err)
	}

	again, appended, err := m.AppendUserTurn(s.ID, "price kya hai")
	if err != nil {
		t.Fatalf("retry AppendUserTurn() error = %v", err)
	}
	if appended {
		t.Fatalf("retry of unanswered identical user turn should not append")
	}
	if again.ID != first.ID {
		t.Fatalf("retry returned turn %q, want original %q", again.ID, first.ID)
	}

	turns, err := m.RecentTurns(s.ID, 0)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("history has %d turns, want 1", len(turns))
	}
}

func TestAppendUserTurnAllowsSelfCorrection(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()

	if _, _, err := m.AppendUserTurn(s.ID, "kal aaunga"); err != nil {
		t.Fatalf("AppendUserTurn() error = %v", err)
	}
	if _, appended, err := m.AppendUserTurn(s.ID, "nahi, parso aaunga"); err != nil || !appended {
		t.Fatalf("corrected user turn should append, got (%v, %v)", appended, err)
	}

	turns, _ := m.RecentTurns(s.ID, 0)
	if len(turns) != 2 {
		t.Fatalf("history has %d turns, want 2 consecutive user turns", len(turns))
	}
}

func TestAppendAgentTurnRequiresPendingUserTurn(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()

	if _, err := m.AppendAgentTurn(s.ID, "haan bilkul"); !errors.Is(err, ErrTurnOrder) {
		t.Fatalf("AppendAgentTurn() on empty history error = %v, want ErrTurnOrder", err)
	}

	if _, _, err := m.AppendUserTurn(s.ID, "update?"); err != nil {
		t.Fatalf("AppendUserTurn() error = %v", err)
	}
	if _, err := m.AppendAgentTurn(s.ID, "kaam chal raha hai"); err != nil {
		t.Fatalf("AppendAgentTurn() error = %v", err)
	}
	if _, err := m.AppendAgentTurn(s.ID, "dubara"); !errors.Is(err, ErrTurnOrder) {
		t.Fatalf("consecutive agent turn error = %v, want ErrTurnOrder", err)
	}
}

func TestTurnHistoryIsAppendOnlyAndOrdered(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()

	for i := 0; i < 3; i++ {
		if _, _, err := m.AppendUserTurn(s.ID, "sawaal "+string(rune('a'+i))); err != nil {
			t.Fatalf("AppendUserTurn() error = %v", err)
		}
		if _, err := m.AppendAgentTurn(s.ID, "jawaab"); err != nil {
			t.Fatalf("AppendAgentTurn() error = %v", err)
		}
	}

	turns, err := m.RecentTurns(s.ID, 0)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 6 {
		t.Fatalf("history has %d turns, want 6", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].At.Before(turns[i-1].At) {
			t.Fatalf("turn %d timestamp precedes turn %d", i, i-1)
		}
	}

	// Mutating the returned copy must not affect the stored history.
	turns[0].Text = "tampered"
	fresh, _ := m.RecentTurns(s.ID, 0)
	if fresh[0].Text == "tampered" {
		t.Fatalf("returned turn slice must be a copy")
	}
}

func TestEndedSessionRejectsTurns(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create()
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	if err := m.BeginTurn(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("BeginTurn() on ended session error = %v, want ErrEnded", err)
	}
	if _, _, err := m.AppendUserTurn(s.ID, "hello"); !errors.Is(err, ErrEnded) {
		t.Fatalf("AppendUserTurn() on ended session error = %v, want ErrEnded", err)
	}
}

func TestJanitorExpiresIdleSessions(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create()

	expired := make(chan string, 1)
	m.SetExpireHook(func(sess *Session) { expired <- sess.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired session = %q, want %q", id, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire idle session")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}

func TestJanitorSkipsSessionsMidTurn(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	s := m.Create()
	if err := m.BeginTurn(s.ID); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	got, _ := m.Get(s.ID)
	if got.Status != StatusActive {
		t.Fatalf("session processing a turn should not expire, status = %q", got.Status)
	}
}
