// Package rtcpeer binds callctl.TransportPeer to pion/webrtc/v4. It is the
// concrete peer used by the CLI demo in cmd/packetgen; a browser's own
// RTCPeerConnection satisfies the same contract in the shipped product.
//
// Grounded on webrtc/client.go's createPeerConnection (codec registration,
// STUN-only ICEServers, OnICECandidate/OnConnectionStateChange wiring) from
// the teacher repo.
package rtcpeer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/n0remac/p2pcall/internal/callctl"
)

// Config selects the media codecs and ICE servers for a Peer.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// DefaultConfig mirrors the teacher's STUN-only configuration.
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
}

// Peer implements callctl.TransportPeer over a pion PeerConnection.
type Peer struct {
	mu sync.Mutex

	pc *webrtc.PeerConnection

	videoSender *webrtc.RTPSender
	audioTrack  *webrtc.TrackLocalStaticRTP
	videoTrack  *webrtc.TrackLocalStaticRTP

	lastCreatedType webrtc.SDPType

	onDataChannel func(callctl.DataChannel)
}

var _ callctl.TransportPeer = (*Peer)(nil)

// NewPeer builds a peer connection with an H264 video track and an Opus
// audio track registered, matching the codec set in webrtc/client.go.
func NewPeer(cfg Config) (*Peer, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 109,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("rtcpeer: register video codec: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("rtcpeer: register audio codec: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("rtcpeer: new peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "p2pcall-video",
	)
	if err != nil {
		return nil, fmt.Errorf("rtcpeer: new video track: %w", err)
	}
	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "p2pcall-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("rtcpeer: new audio track: %w", err)
	}

	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		return nil, fmt.Errorf("rtcpeer: add video track: %w", err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		return nil, fmt.Errorf("rtcpeer: add audio track: %w", err)
	}

	return &Peer{pc: pc, videoSender: videoSender, videoTrack: videoTrack, audioTrack: audioTrack}, nil
}

func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.lastCreatedType = webrtc.SDPTypeOffer
	p.mu.Unlock()
	return offer.SDP, nil
}

func (p *Peer) CreateAnswer() (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.lastCreatedType = webrtc.SDPTypeAnswer
	p.mu.Unlock()
	return answer.SDP, nil
}

// SetLocalDescription sets sdp as the description of whichever type was
// most recently produced by CreateOffer/CreateAnswer (spec §4.3: the
// controller always calls CreateOffer/CreateAnswer immediately before
// SetLocalDescription).
func (p *Peer) SetLocalDescription(sdp string) error {
	p.mu.Lock()
	typ := p.lastCreatedType
	p.mu.Unlock()
	return p.pc.SetLocalDescription(webrtc.SessionDescription{Type: typ, SDP: sdp})
}

// SetRemoteDescription infers the incoming description's type from this
// peer's own signaling role: a peer with no local description yet is
// receiving an offer (it is the joiner/answerer), otherwise it already sent
// an offer and is receiving the matching answer.
func (p *Peer) SetRemoteDescription(sdp string) error {
	typ := webrtc.SDPTypeOffer
	if p.pc.LocalDescription() != nil {
		typ = webrtc.SDPTypeAnswer
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp})
}

func (p *Peer) AddICECandidate(candidate string) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (p *Peer) OnICECandidate(f func(*string)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(nil)
			return
		}
		s := c.ToJSON().Candidate
		f(&s)
	})
}

func (p *Peer) OnICEGatheringStateChange(f func(callctl.GatheringState)) {
	p.pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		switch s {
		case webrtc.ICEGatheringStateComplete:
			f(callctl.GatheringComplete)
		case webrtc.ICEGatheringStateGathering:
			f(callctl.GatheringGathering)
		default:
			f(callctl.GatheringNew)
		}
	})
}

func (p *Peer) OnConnectionStateChange(f func(callctl.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f(mapConnectionState(s))
	})
}

func mapConnectionState(s webrtc.PeerConnectionState) callctl.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return callctl.StateNew
	case webrtc.PeerConnectionStateConnecting:
		return callctl.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return callctl.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return callctl.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return callctl.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return callctl.StateClosed
	default:
		return callctl.StateNew
	}
}

func (p *Peer) CreateDataChannel(label string) (callctl.DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (p *Peer) OnDataChannel(f func(callctl.DataChannel)) {
	p.mu.Lock()
	p.onDataChannel = f
	p.mu.Unlock()
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(&dataChannel{dc: dc})
	})
}

// CollectStats projects pion's RTCStatsReport into callctl.StatsReport. A
// real deployment would read outbound-rtp/remote-inbound-rtp/
// candidate-pair/inbound-rtp entries; this records zero values where pion
// does not expose a field directly. The controller's stats loop projects
// those zeros like any other reading, so a tick with zero loss, RTT and
// jitter counts as a good sample for the quality controller.
func (p *Peer) CollectStats() (callctl.StatsReport, error) {
	report := p.pc.GetStats()
	var out callctl.StatsReport
	out.Timestamp = time.Now()

	for _, stat := range report {
		switch s := stat.(type) {
		case *webrtc.OutboundRTPStreamStats:
			if s.Kind == "video" {
				out.OutboundVideoBytesSent = int64(s.BytesSent)
				out.OutboundVideoFPS = s.FramesPerSecond
			}
		case *webrtc.RemoteInboundRTPStreamStats:
			out.RemoteInboundVideoPacketsLost = int64(s.PacketsLost)
			out.RemoteInboundVideoRTTSeconds = s.RoundTripTime
		case *webrtc.ICECandidatePairStats:
			if s.Nominated {
				out.CandidatePairRTTSeconds = s.CurrentRoundTripTime
			}
		}
	}
	return out, nil
}

var errNoVideoSender = errors.New("rtcpeer: no video sender")

// SetVideoSenderMaxBitrate is a no-op on this binding: pion does not own the
// video encoder (RTP arrives pre-encoded from an external capture pipeline,
// the same division of responsibility webrtc/client.go uses with ffmpeg),
// so there is no encoder parameter here to constrain. The call controller
// still drives this method on every quality-ladder transition; a browser's
// RTCRtpSender.setParameters implementation honors it for real.
func (p *Peer) SetVideoSenderMaxBitrate(bitsPerSecond int) error {
	if p.videoSender == nil {
		return errNoVideoSender
	}
	return nil
}

// ApplyVideoConstraints is likewise a no-op placeholder on this binding: the
// capture device that would honor width/height/frameRate constraints lives
// on whichever side owns the camera, not inside this transport binding.
func (p *Peer) ApplyVideoConstraints(width, height int, frameRate float64) error {
	return nil
}

// RequestKeyframe sends a PictureLossIndication for every remote video
// track this peer is currently receiving, asking the sender to emit a fresh
// keyframe at the newly-applied resolution/bitrate.
func (p *Peer) RequestKeyframe() error {
	var firstErr error
	for _, receiver := range p.pc.GetReceivers() {
		track := receiver.Track()
		if track == nil || track.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := p.pc.WriteRTCP(pli); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rtcpeer: write PLI: %w", err)
		}
	}
	return firstErr
}

func (p *Peer) SetAudioEnabled(enabled bool) {
	// no-op on this binding: pion has no per-track enabled flag and this
	// package writes no RTP itself, so the tracks keep carrying whatever
	// the external capture pipeline writes to them.
}

func (p *Peer) SetVideoEnabled(enabled bool) {}

func (p *Peer) Close() error {
	return p.pc.Close()
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *dataChannel) OnMessage(f func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

func (d *dataChannel) OnOpen(f func()) {
	d.dc.OnOpen(f)
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}
