// Package callctl implements the local call controller state machine (spec
// §4.3): offer/answer exchange, ICE candidate-gathering settle, adaptive
// quality control from periodic telemetry, the chat/media-state/diagnostics
// control channel, and the connect watchdog.
//
// The real-time-transport stack is treated as an external collaborator
// (spec §1): TransportPeer is its contract. internal/rtcpeer supplies a
// concrete binding over pion/webrtc/v4; a browser's own RTCPeerConnection
// would bind the same contract in the shipped product.
//
// Grounded on webrtc/client.go's handleSignal/createPeerConnection state
// handling and webrtc/sfu.go's single-owned-goroutine-per-peer shape
// (candidate queue, send channel) from the teacher repo.
package callctl

import "time"

// ConnectionState mirrors the transport's reported peer-connection state.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// GatheringState mirrors the transport's ICE-gathering state.
type GatheringState int

const (
	GatheringNew GatheringState = iota
	GatheringGathering
	GatheringComplete
)

// StatsReport is the raw statistics snapshot the transport produces each
// collection tick; internal/rtcpeer's pion binding fills it in from the
// underlying RTCStatsReport, and the controller projects it into a
// diagnostics.Event via the formulas in spec §4.3.
type StatsReport struct {
	Timestamp time.Time

	OutboundVideoBytesSent int64
	OutboundVideoWidth     int
	OutboundVideoHeight    int
	OutboundVideoFPS       float64

	RemoteInboundVideoPacketsLost     int64
	RemoteInboundVideoPacketsReceived int64
	RemoteInboundVideoRTTSeconds      float64

	CandidatePairRTTSeconds float64

	InboundAudioJitterSeconds float64

	AudioLevel float64
}

// DataChannel is the contract for a reliable, ordered message channel.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnMessage(func(data []byte))
	OnOpen(func())
	Close() error
}

// TransportPeer is the contract the call controller drives. Its
// implementation already has local media tracks attached and candidate/
// track/state handlers available to register (spec §4.3: "each immediately
// attaches local media tracks... and registers candidate/track/state
// handlers" is the caller's job before constructing the controller).
type TransportPeer interface {
	CreateOffer() (sdp string, err error)
	CreateAnswer() (sdp string, err error)
	SetLocalDescription(sdp string) error
	SetRemoteDescription(sdp string) error
	AddICECandidate(candidate string) error

	// OnICECandidate registers a callback invoked once per gathered
	// candidate; a nil *string argument signals the "null candidate" /
	// end-of-candidates event (spec §4.3 ICE settle condition (b)).
	OnICECandidate(func(candidate *string))
	OnICEGatheringStateChange(func(GatheringState))
	OnConnectionStateChange(func(ConnectionState))

	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(func(DataChannel))

	CollectStats() (StatsReport, error)

	// SetVideoSenderMaxBitrate and ApplyVideoConstraints both tolerate
	// failure silently at the call site (spec §4.3); they still return an
	// error so the controller can log it.
	SetVideoSenderMaxBitrate(bitsPerSecond int) error
	ApplyVideoConstraints(width, height int, frameRate float64) error

	// RequestKeyframe asks the remote peer's encoder to emit a fresh
	// keyframe, via RTCP picture-loss feedback where the transport supports
	// it. The controller calls this on a quality step-down so the viewer
	// doesn't wait out a GOP at the stale resolution; failure is tolerated
	// silently at the call site like the bitrate/constraint updates above.
	RequestKeyframe() error

	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	Close() error
}
