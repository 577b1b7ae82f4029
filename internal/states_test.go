package internal

import (
	"testing"
	"time"
)

func TestCompareAndSetCurrentState(t *testing.T) {
	st := NewStateTracker(SessionStateDisconnected)

	prev, ok := st.CompareAndSetCurrentState(SessionStateConnecting, SessionStateDisconnected)
	if !ok || prev != SessionStateDisconnected {
		t.Fatalf("expect transition from DISCONNECTED, got prev=%s ok=%v", prev, ok)
	}

	prev, ok = st.CompareAndSetCurrentState(SessionStateConnecting, SessionStateDisconnected)
	if ok || prev != SessionStateConnecting {
		t.Fatalf("second connect must be rejected, got prev=%s ok=%v", prev, ok)
	}

	if st.TargetState() != SessionStateDisconnected {
		t.Errorf("target state must not change, got %s", st.TargetState())
	}
}

func TestWaitForState(t *testing.T) {
	st := NewStateTracker(SessionStateConnecting)
	go func() {
		time.Sleep(50 * time.Millisecond)
		st.SetCurrentState(SessionStateConnected)
	}()
	if !st.WaitForState(SessionStateConnected, time.Second) {
		t.Fatal("state never reached CONNECTED")
	}
	if st.WaitForState(SessionStateDisconnected, 60*time.Millisecond) {
		t.Fatal("wait must time out")
	}
}
