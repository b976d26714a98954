package headersync

import (
	"fmt"

	"github.com/hlsnet/hls-core/p2p"
)

// OutcomeKind tells how a sync session ended.
type OutcomeKind int

const (
	// OutcomeSkipped means no session was started.
	OutcomeSkipped OutcomeKind = iota
	// OutcomeCompleted means the peer ran out of headers after delivering
	// everything it announced.
	OutcomeCompleted
	// OutcomeCaughtUp means the peer had nothing heavier than the local head.
	OutcomeCaughtUp
	// OutcomeCancelled means the caller stopped the session.
	OutcomeCancelled
	// OutcomePeerFault means the peer misbehaved and was disconnected.
	OutcomePeerFault
	// OutcomeTimeout means the peer did not answer in time and was
	// disconnected.
	OutcomeTimeout
	// OutcomePeerGone means the peer disconnected during the session.
	OutcomePeerGone
	// OutcomeNoCommonAncestor means the headers of the peer do not connect
	// to the local chain. The peer is kept.
	OutcomeNoCommonAncestor
	// OutcomeFailed means a local error ended the session.
	OutcomeFailed
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeSkipped:          "skipped",
	OutcomeCompleted:        "completed",
	OutcomeCaughtUp:         "caught_up",
	OutcomeCancelled:        "cancelled",
	OutcomePeerFault:        "peer_fault",
	OutcomeTimeout:          "timeout",
	OutcomePeerGone:         "peer_gone",
	OutcomeNoCommonAncestor: "no_common_ancestor",
	OutcomeFailed:           "failed",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// SessionOutcome is the result of a sync session.
type SessionOutcome struct {
	Kind OutcomeKind
	// Reason the peer was disconnected with, set for OutcomePeerFault and
	// OutcomeTimeout.
	Reason p2p.DisconnectReason
	// Err is the underlying cause, if any.
	Err error

	// Batches and Headers count what the session yielded.
	Batches int
	Headers int
}

// PeerDisconnected reports whether the session dropped the peer.
func (o SessionOutcome) PeerDisconnected() bool {
	return o.Reason != ""
}

func (o SessionOutcome) String() string {
	s := o.Kind.String()
	if o.Reason != "" {
		s += fmt.Sprintf("(%s)", o.Reason)
	}
	if o.Err != nil {
		s += fmt.Sprintf(": %v", o.Err)
	}
	return s
}

func peerFault(reason p2p.DisconnectReason, err error) SessionOutcome {
	return SessionOutcome{Kind: OutcomePeerFault, Reason: reason, Err: err}
}

func failed(err error) SessionOutcome {
	return SessionOutcome{Kind: OutcomeFailed, Err: err}
}
