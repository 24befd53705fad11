package transaction

// State is the phase a transaction is in.
type State string

const (
	// StateUnset means the transaction has not started; it counts as writing.
	StateUnset          State = ""
	StateWrite          State = "write"
	StateWriteStartLine State = "write_start_line"
	StateWriteHeaders   State = "write_headers"
	StateWriteBody      State = "write_body"
	// StatePaused suspends body emission until Resume.
	StatePaused State = "paused"
	// StateRead means the local side is done writing and waits for the peer.
	StateRead     State = "read"
	StateFinished State = "finished"
)

func (s State) String() string {
	if s == StateUnset {
		return "unset"
	}
	return string(s)
}

// Writing reports whether the state is one of the write phases.
func (s State) Writing() bool {
	switch s {
	case StateUnset, StateWrite, StateWriteStartLine, StateWriteHeaders, StateWriteBody:
		return true
	}
	return false
}

// Kind tells plain HTTP transactions apart from upgraded ones.
type Kind int

const (
	KindPlain Kind = iota
	KindWebSocket
)

func (k Kind) String() string {
	if k == KindWebSocket {
		return "websocket"
	}
	return "plain"
}

// Outcome classifies how a finished transaction ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeParseError      Outcome = "parse_error"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeStatusError     Outcome = "status_error"
)
