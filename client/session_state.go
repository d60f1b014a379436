package client

import "sync/atomic"

// SessionState represents the stages of a HiSLIP session.
type SessionState uint32

const (
	// DisconnectedState indicates that neither channel is connected.
	DisconnectedState SessionState = iota
	// ConnectingState indicates that the initialization handshake is in progress.
	ConnectingState
	// ReadyState indicates that both channels are initialized and the session is usable.
	ReadyState
	// FailedState indicates that the last handshake or a fatal error closed the session.
	FailedState
)

// String returns string representation of the state.
func (s SessionState) String() string {
	switch s {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ReadyState:
		return "ready"
	case FailedState:
		return "failed"
	default:
		return "unknown"
	}
}

// IsReady returns if the session is usable.
func (s SessionState) IsReady() bool { return s == ReadyState }

// SessionStateChangeHandler is invoked when the state of a session changes.
//
// Note: the handler will be invoked in a blocking mode. Take care with long-running implementations.
type SessionStateChangeHandler func(s *Session, prevState SessionState, newState SessionState)

type atomicSessionState struct {
	state atomic.Uint32
}

func (st *atomicSessionState) Get() SessionState {
	return SessionState(st.state.Load())
}

// Set stores the state and returns the previous one.
func (st *atomicSessionState) Set(state SessionState) SessionState {
	return SessionState(st.state.Swap(uint32(state)))
}

// ToConnecting moves a session that is not ready and not already connecting to ConnectingState.
func (st *atomicSessionState) ToConnecting() (SessionState, bool) {
	for {
		cur := st.Get()
		if cur == ConnectingState || cur == ReadyState {
			return cur, false
		}

		if st.state.CompareAndSwap(uint32(cur), uint32(ConnectingState)) {
			return cur, true
		}
	}
}

func (st *atomicSessionState) ToReady() bool {
	return st.state.CompareAndSwap(uint32(ConnectingState), uint32(ReadyState))
}
