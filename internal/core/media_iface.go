package core

import (
	"github.com/pion/webrtc/v4"
)

// MediaConnection is one peer-to-peer media transport. Host and viewer
// sessions drive it; callbacks fire on transport goroutines.
type MediaConnection interface {
	// AddLocalTrack attaches a local track before the offer is created.
	AddLocalTrack(track webrtc.TrackLocal) error
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// ApplyOfferAndCreateAnswer sets the remote offer and the local answer.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// Close should stop all underlying media resources.
	Close()
}

// MediaFactory creates a transport for the given remote member.
type MediaFactory func(peer SessionID) (MediaConnection, error)

