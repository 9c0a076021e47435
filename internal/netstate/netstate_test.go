package netstate

import "testing"

// TestMonitorTransitions verifies subscribers see transitions exactly
// once, not repeated same-state signals.
func TestMonitorTransitions(t *testing.T) {
	m := NewMonitor(true)

	var got []bool
	m.Subscribe(func(online bool) { got = append(got, online) })

	m.SetOnline(true) // no transition
	m.SetOnline(false)
	m.SetOnline(false) // no transition
	m.SetOnline(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Errorf("Expected [false true], got %v", got)
	}
	if !m.Online() {
		t.Error("Expected online")
	}
}

// TestMonitorUnsubscribe verifies cancelled subscriptions stop firing.
func TestMonitorUnsubscribe(t *testing.T) {
	m := NewMonitor(true)

	calls := 0
	cancel := m.Subscribe(func(bool) { calls++ })

	m.SetOnline(false)
	cancel()
	m.SetOnline(true)

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}
