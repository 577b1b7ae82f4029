package internal

import (
	"sync"
	"time"
)

const (
	SessionStateDisconnected = "DISCONNECTED"
	SessionStateConnecting   = "CONNECTING"
	SessionStateConnected    = "CONNECTED"
)

// StateTracker keeps the current session state next to the state the owner
// wants to reach. Target is what the user asked for (connect/disconnect),
// current is what the device session actually is.
type StateTracker struct {
	currentState string
	targetState  string
	mux          *sync.RWMutex
}

func NewStateTracker(initial string) *StateTracker {
	return &StateTracker{currentState: initial, targetState: initial, mux: &sync.RWMutex{}}
}

func (st *StateTracker) CurrentState() string {
	st.mux.RLock()
	defer st.mux.RUnlock()
	return st.currentState
}

func (st *StateTracker) TargetState() string {
	st.mux.RLock()
	defer st.mux.RUnlock()
	return st.targetState
}

// SetCurrentState stores state and returns the previous one.
func (st *StateTracker) SetCurrentState(state string) string {
	st.mux.Lock()
	defer st.mux.Unlock()
	prev := st.currentState
	st.currentState = state
	return prev
}

func (st *StateTracker) SetTargetState(state string) {
	st.mux.Lock()
	defer st.mux.Unlock()
	st.targetState = state
}

// CompareAndSetCurrentState moves to state only if the current state is one of from.
// It returns the state observed before the call and whether the move happened.
func (st *StateTracker) CompareAndSetCurrentState(state string, from ...string) (string, bool) {
	st.mux.Lock()
	defer st.mux.Unlock()
	prev := st.currentState
	for _, f := range from {
		if prev == f {
			st.currentState = state
			return prev, true
		}
	}
	return prev, false
}

// WaitForState blocks until the current state equals state or the wait times out.
func (st *StateTracker) WaitForState(state string, timeout time.Duration) bool {
	endTime := time.Now().Add(timeout)
	for {
		if st.CurrentState() == state {
			return true
		}
		if time.Now().After(endTime) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}
