package status

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, AuthRequired},
		{Booting, Connecting},
		{Booting, Error},
		{AuthRequired, Connecting},
		{Connecting, Syncing},
		{Syncing, Ready},
		{Ready, Reconnecting},
		{Reconnecting, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			// Walk to the "from" state.
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != AuthRequired {
		t.Errorf("change = %v -> %v, want BOOTING -> AUTH_REQUIRED", change.From, change.To)
	}
}

func TestAuthRequiredMustReconnectBeforeSyncing(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, AuthRequired)

	if err := m.Transition(Syncing); err == nil {
		t.Fatal("AUTH_REQUIRED -> SYNCING should fail")
	}
	if m.Current() != AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED unchanged", m.Current())
	}
}

func TestSessionLifecycles(t *testing.T) {
	tests := []struct {
		name  string
		start State
		steps []State
	}{
		{"first login", Booting, []State{AuthRequired, Connecting, Syncing, Ready}},
		{"stored credentials", Booting, []State{Connecting, Syncing, Ready}},
		{"dropped connection", Ready, []State{Reconnecting, Connecting, Syncing, Ready}},
		{"degraded recovers", Syncing, []State{Degraded, Ready}},
		{"logged out mid sync", Ready, []State{AuthRequired}},
		{"restart after error", Error, []State{Booting, Connecting}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.start)
			for _, s := range tt.steps {
				if err := m.Transition(s); err != nil {
					t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
				}
			}
			if want := tt.steps[len(tt.steps)-1]; m.Current() != want {
				t.Errorf("final state = %s, want %s", m.Current(), want)
			}
		})
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		AuthRequired: {AuthRequired},
		Connecting:   {AuthRequired, Connecting},
		Syncing:      {Connecting, Syncing},
		Ready:        {Connecting, Syncing, Ready},
		Reconnecting: {Connecting, Syncing, Ready, Reconnecting},
		Degraded:     {Connecting, Syncing, Degraded},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}

func TestWaitForReturnsOnTarget(t *testing.T) {
	m := NewMachine(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan State, 1)
	go func() {
		s, err := m.WaitFor(ctx, Syncing, Ready)
		if err != nil {
			t.Errorf("WaitFor() error = %v", err)
		}
		done <- s
	}()

	walkTo(t, m, Syncing)
	if got := <-done; got != Syncing {
		t.Errorf("WaitFor() = %s, want SYNCING", got)
	}
}

func TestWaitForFailsOnAuthRequired(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, AuthRequired)

	if _, err := m.WaitFor(context.Background(), Ready); err == nil {
		t.Error("WaitFor(READY) should fail once credentials are gone")
	}
	if s, err := m.WaitFor(context.Background(), AuthRequired); err != nil || s != AuthRequired {
		t.Errorf("WaitFor(AUTH_REQUIRED) = %s, %v", s, err)
	}
}

func TestWaitForHonorsContext(t *testing.T) {
	m := NewMachine(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.WaitFor(ctx, Ready); err == nil {
		t.Error("WaitFor() should time out")
	}
}
