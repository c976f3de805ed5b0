package viewer

type State int

const (
	StateJoinSent State = iota
	StateOfferReceived
	StateAnswerSent
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoinSent:
		return "join-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}
