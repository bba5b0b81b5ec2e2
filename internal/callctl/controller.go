package callctl

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n0remac/p2pcall/internal/diagnostics"
	"github.com/n0remac/p2pcall/internal/envelope"
	"github.com/n0remac/p2pcall/internal/failure"
	"github.com/n0remac/p2pcall/internal/logging"
	"github.com/n0remac/p2pcall/internal/quality"
	"github.com/n0remac/p2pcall/internal/validate"
)

// ConnectWatchdog is how long the controller waits for StateConnected
// before reporting CONNECTION_TIMEOUT (spec §4.3, §5).
const ConnectWatchdog = 25 * time.Second

// StatsInterval is the telemetry collection period (spec §4.3).
const StatsInterval = 1000 * time.Millisecond

// Options configures a Controller's callbacks and collaborators. All
// callbacks are optional; a nil callback is simply not invoked.
type Options struct {
	Clock Clock // defaults to RealClock

	ClientInfo string

	OnStateChange       func(ConnectionState)
	OnRemoteMediaState  func(ControlPayload)
	OnChatMessage       func(ChatPayload)
	OnQualityChange     func(quality.State, quality.Profile)
	OnDiagnosticsSample func(diagnostics.Event)
	OnFailure           func(failure.Code)
}

// Controller is the local call-controller state machine (spec §4.3). It
// exclusively owns its transport peer, its candidate list, its data
// channels and its timers (spec §3 "Ownership"). A single mutex serializes
// every mutation, which is the idiomatic Go rendering of the single
// owning-context rule in spec §5 — transport callbacks may arrive on any
// goroutine the transport implementation chooses.
type Controller struct {
	mu sync.Mutex

	transport TransportPeer
	role      envelope.Role
	clock     Clock
	opts      Options

	sessionID string

	candidates   []string
	activeGather *gatherSession

	connState ConnectionState
	watchdog  Timer
	statsTick *time.Ticker
	statsDone chan struct{}

	chatCh DataChannel
	diagCh DataChannel
	lastChatSent time.Time

	qualityCtl *quality.Controller
	diagLog    *diagnostics.Log
	peerID     string

	prevStats *StatsReport

	closed bool
}

func newController(transport TransportPeer, role envelope.Role, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	c := &Controller{
		transport:  transport,
		role:       role,
		clock:      opts.Clock,
		opts:       opts,
		connState:  StateNew,
		qualityCtl: quality.New(),
		diagLog:    diagnostics.New(),
		peerID:     uuid.NewString(),
	}

	transport.OnICECandidate(c.handleICECandidate)
	transport.OnICEGatheringStateChange(c.handleICEGatheringState)
	transport.OnConnectionStateChange(c.handleConnectionStateChange)

	return c
}

// NewHostController constructs a host-side controller. The host creates
// both reliable, ordered data channels at construction (spec §4.3).
func NewHostController(transport TransportPeer, opts Options) (*Controller, error) {
	c := newController(transport, envelope.RoleHost, opts)

	chat, err := transport.CreateDataChannel("chat")
	if err != nil {
		return nil, fmt.Errorf("callctl: create chat channel: %w", err)
	}
	diag, err := transport.CreateDataChannel("diag")
	if err != nil {
		return nil, fmt.Errorf("callctl: create diag channel: %w", err)
	}
	c.wireChatChannel(chat)
	c.wireDiagChannel(diag)
	return c, nil
}

// NewJoinerController constructs a joiner-side controller. The joiner
// receives its data channels via the transport's channel-opened
// notification (spec §4.3).
func NewJoinerController(transport TransportPeer, opts Options) *Controller {
	c := newController(transport, envelope.RoleJoiner, opts)
	transport.OnDataChannel(func(ch DataChannel) {
		switch ch.Label() {
		case "chat":
			c.wireChatChannel(ch)
		case "diag":
			c.wireDiagChannel(ch)
		}
	})
	return c
}

func (c *Controller) wireChatChannel(ch DataChannel) {
	c.mu.Lock()
	c.chatCh = ch
	c.mu.Unlock()
	ch.OnMessage(c.handleChatChannelMessage)
}

func (c *Controller) wireDiagChannel(ch DataChannel) {
	c.mu.Lock()
	c.diagCh = ch
	c.mu.Unlock()
	ch.OnMessage(c.handleDiagChannelMessage)
}

// CreateOffer runs the host's offer flow (spec §4.3).
func (c *Controller) CreateOffer() (envelope.OfferPayload, error) {
	c.mu.Lock()
	c.candidates = nil
	c.sessionID = uuid.NewString()
	sessionID := c.sessionID
	c.mu.Unlock()

	sdp, err := c.transport.CreateOffer()
	if err != nil {
		return envelope.OfferPayload{}, fmt.Errorf("callctl: create offer: %w", err)
	}
	if err := c.transport.SetLocalDescription(sdp); err != nil {
		return envelope.OfferPayload{}, fmt.Errorf("callctl: set local description: %w", err)
	}

	c.awaitCandidateGathering()
	c.startConnectWatchdog()

	return envelope.OfferPayload{
		SessionID:     sessionID,
		SDPOffer:      sdp,
		ICECandidates: c.snapshotCandidates(),
		MediaTarget:   envelope.MediaTarget1080p30,
		ClientInfo:    c.opts.ClientInfo,
	}, nil
}

// ApplyOffer runs the joiner's answer flow (spec §4.3).
func (c *Controller) ApplyOffer(offer envelope.OfferPayload) (envelope.AnswerPayload, error) {
	c.mu.Lock()
	c.sessionID = offer.SessionID
	c.mu.Unlock()

	if err := c.transport.SetRemoteDescription(offer.SDPOffer); err != nil {
		return envelope.AnswerPayload{}, fmt.Errorf("callctl: set remote description: %w", err)
	}

	for _, cand := range offer.ICECandidates {
		if err := c.transport.AddICECandidate(cand); err != nil {
			logging.Info("discarding offer candidate", logging.Fields{"reason": err.Error()})
		}
	}

	c.mu.Lock()
	c.candidates = nil
	c.mu.Unlock()

	sdp, err := c.transport.CreateAnswer()
	if err != nil {
		return envelope.AnswerPayload{}, fmt.Errorf("callctl: create answer: %w", err)
	}
	if err := c.transport.SetLocalDescription(sdp); err != nil {
		return envelope.AnswerPayload{}, fmt.Errorf("callctl: set local description: %w", err)
	}

	c.awaitCandidateGathering()
	c.startConnectWatchdog()

	return envelope.AnswerPayload{
		SessionID:           offer.SessionID,
		SDPAnswer:           sdp,
		ICECandidates:       c.snapshotCandidates(),
		AcceptedMediaTarget: envelope.MediaTarget1080p30,
		ClientInfo:          c.opts.ClientInfo,
	}, nil
}

// ApplyAnswer completes the host's handshake (spec §4.3). A mismatched
// sessionId is rejected without touching the transport.
func (c *Controller) ApplyAnswer(answer envelope.AnswerPayload) error {
	c.mu.Lock()
	want := c.sessionID
	c.mu.Unlock()
	if answer.SessionID != want {
		return fmt.Errorf("callctl: answer sessionId %q does not match offer sessionId %q", answer.SessionID, want)
	}

	if err := c.transport.SetRemoteDescription(answer.SDPAnswer); err != nil {
		return fmt.Errorf("callctl: set remote description: %w", err)
	}
	for _, cand := range answer.ICECandidates {
		if err := c.transport.AddICECandidate(cand); err != nil {
			logging.Info("discarding answer candidate", logging.Fields{"reason": err.Error()})
		}
	}
	return nil
}

func (c *Controller) snapshotCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c *Controller) awaitCandidateGathering() {
	session := newGatherSession(c.clock)
	c.mu.Lock()
	c.activeGather = session
	c.mu.Unlock()

	session.wait()

	c.mu.Lock()
	c.activeGather = nil
	c.mu.Unlock()
	session.stop()
}

func (c *Controller) handleICECandidate(candidate *string) {
	c.mu.Lock()
	if candidate != nil {
		c.candidates = append(c.candidates, *candidate)
	}
	session := c.activeGather
	c.mu.Unlock()

	if session == nil {
		return
	}
	if candidate == nil {
		session.complete()
	} else {
		session.onCandidate()
	}
}

func (c *Controller) handleICEGatheringState(state GatheringState) {
	if state != GatheringComplete {
		return
	}
	c.mu.Lock()
	session := c.activeGather
	c.mu.Unlock()
	if session != nil {
		session.complete()
	}
}

func (c *Controller) startConnectWatchdog() {
	c.mu.Lock()
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchdog = c.clock.AfterFunc(ConnectWatchdog, c.handleWatchdogFired)
	c.mu.Unlock()
}

func (c *Controller) handleWatchdogFired() {
	c.mu.Lock()
	alreadyConnected := c.connState == StateConnected
	c.watchdog = nil
	c.mu.Unlock()
	if alreadyConnected {
		return
	}
	if c.opts.OnFailure != nil {
		c.opts.OnFailure(failure.CodeConnectionTimeout)
	}
}

// handleConnectionStateChange is registered with the transport at
// construction (spec §4.3).
func (c *Controller) handleConnectionStateChange(state ConnectionState) {
	c.mu.Lock()
	c.connState = state
	c.mu.Unlock()

	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state)
	}

	switch state {
	case StateConnected:
		c.mu.Lock()
		if c.watchdog != nil {
			c.watchdog.Stop()
			c.watchdog = nil
		}
		c.mu.Unlock()
		c.startStatsLoop()
	case StateFailed:
		if c.opts.OnFailure != nil {
			c.opts.OnFailure(failure.CodeNATBlocked)
		}
	}
}

func (c *Controller) startStatsLoop() {
	c.mu.Lock()
	if c.statsTick != nil {
		c.mu.Unlock()
		return
	}
	ticker := time.NewTicker(StatsInterval)
	c.statsTick = ticker
	c.statsDone = make(chan struct{})
	done := c.statsDone
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				c.collectAndApplyStats()
			case <-done:
				return
			}
		}
	}()
}

func (c *Controller) collectAndApplyStats() {
	report, err := c.transport.CollectStats()
	if err != nil {
		logging.Error("stats collection failed", err, nil)
		return
	}

	c.mu.Lock()
	prev := c.prevStats
	c.prevStats = &report
	c.mu.Unlock()

	sample, event := projectSample(prev, report, c.peerID)

	c.diagLog.AppendLocal(event)
	if c.opts.OnDiagnosticsSample != nil {
		c.opts.OnDiagnosticsSample(event)
	}
	c.sendDiagSample(event)

	prevActive := c.qualityCtl.Active()
	next, changed := c.qualityCtl.Feed(sample)
	if changed {
		c.applyQualityDecision(prevActive, next)
	}
}

// projectSample implements the stats → sample/event projections of spec
// §4.3. It is a pure function so the formulas are unit-testable without a
// real transport.
func projectSample(prev *StatsReport, cur StatsReport, peerID string) (quality.Sample, diagnostics.Event) {
	elapsedMs := float64(1000)
	deltaBytes := cur.OutboundVideoBytesSent
	if prev != nil {
		elapsedMs = float64(cur.Timestamp.Sub(prev.Timestamp).Milliseconds())
		deltaBytes = cur.OutboundVideoBytesSent - prev.OutboundVideoBytesSent
	}
	if deltaBytes < 0 {
		deltaBytes = 0
	}
	if elapsedMs < 1 {
		elapsedMs = 1
	}
	bitrateKbps := math.Round(float64(deltaBytes) * 8 / elapsedMs)

	denom := cur.RemoteInboundVideoPacketsLost + cur.RemoteInboundVideoPacketsReceived
	if denom < 1 {
		denom = 1
	}
	packetLossPct := 100 * float64(cur.RemoteInboundVideoPacketsLost) / float64(denom)

	rttSeconds := cur.RemoteInboundVideoRTTSeconds
	if cur.CandidatePairRTTSeconds > rttSeconds {
		rttSeconds = cur.CandidatePairRTTSeconds
	}
	rttMs := math.Round(1000 * rttSeconds)

	jitterMs := math.Round(1000 * cur.InboundAudioJitterSeconds)

	sample := quality.Sample{PacketLossPct: packetLossPct, RTTMs: rttMs, JitterMs: jitterMs}
	event := diagnostics.Event{
		Timestamp:     cur.Timestamp,
		PeerID:        peerID,
		RTTMs:         rttMs,
		JitterMs:      jitterMs,
		PacketLossPct: packetLossPct,
		BitrateKbps:   bitrateKbps,
		FrameWidth:    cur.OutboundVideoWidth,
		FrameHeight:   cur.OutboundVideoHeight,
		FPS:           cur.OutboundVideoFPS,
		AudioLevel:    cur.AudioLevel,
		EventType:     "stats-sample",
	}
	return sample, event
}

// applyQualityDecision resolves a Feed report into a pinned active state and
// applies it to the transport. prev is the controller's active state as it
// stood *before* the Feed call that produced next — callers must capture it
// ahead of Feed, since Feed itself mutates the controller's active state on
// a step-down before returning (spec §4.4).
func (c *Controller) applyQualityDecision(prev, next quality.State) {
	active := next
	if next == quality.Recovering {
		active = quality.StepUp(prev)
	}
	c.qualityCtl.ForceState(active)

	profile, ok := quality.ProfileFor(active)
	if !ok {
		return
	}
	if err := c.transport.SetVideoSenderMaxBitrate(profile.MaxBitrate); err != nil {
		logging.Info("bitrate update failed, ignoring", logging.Fields{"err": err.Error()})
	}
	if err := c.transport.ApplyVideoConstraints(profile.Width, profile.Height, 30); err != nil {
		logging.Info("constraint update failed, ignoring", logging.Fields{"err": err.Error()})
	}
	if active > prev && active != quality.Recovering {
		// stepped down a rung (spec §4.4 ladder order): ask for a fresh
		// keyframe so the viewer isn't stuck decoding stale-resolution
		// frames until the next natural GOP boundary.
		if err := c.transport.RequestKeyframe(); err != nil {
			logging.Info("keyframe request failed, ignoring", logging.Fields{"err": err.Error()})
		}
	}
	if c.opts.OnQualityChange != nil {
		c.opts.OnQualityChange(active, profile)
	}
}

func (c *Controller) sendDiagSample(event diagnostics.Event) {
	c.mu.Lock()
	ch := c.diagCh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Frame{Type: FrameDiag, Payload: payload})
	if err != nil {
		return
	}
	if err := ch.Send(frame); err != nil {
		logging.Info("diag send failed, ignoring", logging.Fields{"err": err.Error()})
	}
}

func (c *Controller) handleDiagChannelMessage(data []byte) {
	if len(data) > MaxIncomingFrameChars {
		return
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Type != FrameDiag {
		return
	}
	var event diagnostics.Event
	if err := json.Unmarshal(frame.Payload, &event); err != nil {
		return
	}
	if err := validate.MaxLen("message", event.Message, diagnostics.MaxMessageChars); err != nil {
		return
	}
	c.diagLog.AppendRemote(event)
}

func (c *Controller) handleChatChannelMessage(data []byte) {
	if len(data) > MaxIncomingFrameChars {
		return
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	switch frame.Type {
	case FrameChat:
		var chat ChatPayload
		if err := json.Unmarshal(frame.Payload, &chat); err != nil {
			return
		}
		if c.opts.OnChatMessage != nil {
			c.opts.OnChatMessage(chat)
		}
	case FrameControl:
		var ctrl ControlPayload
		if err := json.Unmarshal(frame.Payload, &ctrl); err != nil {
			return
		}
		if c.opts.OnRemoteMediaState != nil {
			c.opts.OnRemoteMediaState(ctrl)
		}
	default:
		// unknown type values are dropped (spec §9)
	}
}

// SendChat sends a sanitized chat message, enforcing the local minimum send
// interval (spec §4.3). It returns an error if the channel isn't open yet
// or the send was throttled.
func (c *Controller) SendChat(from, text string) error {
	c.mu.Lock()
	ch := c.chatCh
	now := c.clock.Now()
	sinceLast := now.Sub(c.lastChatSent)
	if c.lastChatSent.IsZero() {
		sinceLast = MinChatInterval
	}
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("callctl: chat channel not open")
	}
	if sinceLast < MinChatInterval {
		return fmt.Errorf("callctl: chat send throttled, minimum interval is %s", MinChatInterval)
	}

	sanitized := sanitizeChatText(text)
	payload, err := json.Marshal(ChatPayload{Text: sanitized, From: from, Timestamp: now})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Type: FrameChat, Payload: payload})
	if err != nil {
		return err
	}
	if err := ch.Send(frame); err != nil {
		return fmt.Errorf("callctl: send chat: %w", err)
	}

	c.mu.Lock()
	c.lastChatSent = now
	c.mu.Unlock()
	return nil
}

// ToggleMicrophoneEnabled flips the local audio track's enabled flag and
// broadcasts the new media state to the peer (spec §4.3).
func (c *Controller) ToggleMicrophoneEnabled(enabled bool, videoEnabled bool) error {
	c.transport.SetAudioEnabled(enabled)
	return c.broadcastMediaState(enabled, videoEnabled)
}

// ToggleCameraEnabled flips the local video track's enabled flag and
// broadcasts the new media state to the peer (spec §4.3).
func (c *Controller) ToggleCameraEnabled(enabled bool, audioEnabled bool) error {
	c.transport.SetVideoEnabled(enabled)
	return c.broadcastMediaState(audioEnabled, enabled)
}

func (c *Controller) broadcastMediaState(audioEnabled, videoEnabled bool) error {
	c.mu.Lock()
	ch := c.chatCh
	now := c.clock.Now()
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("callctl: chat channel not open")
	}
	payload, err := json.Marshal(ControlPayload{AudioEnabled: audioEnabled, VideoEnabled: videoEnabled, Timestamp: now})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Type: FrameControl, Payload: payload})
	if err != nil {
		return err
	}
	return ch.Send(frame)
}

// DiagnosticsLog returns the controller's diagnostics log for export.
func (c *Controller) DiagnosticsLog() *diagnostics.Log {
	return c.diagLog
}

// ConnectionState returns the controller's last observed connection state.
func (c *Controller) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Close clears all timers and closes both channels and the transport peer.
// Close is idempotent (spec §4.3, §5).
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	if c.statsTick != nil {
		c.statsTick.Stop()
		close(c.statsDone)
		c.statsTick = nil
	}
	chat, diag := c.chatCh, c.diagCh
	c.mu.Unlock()

	if chat != nil {
		_ = chat.Close()
	}
	if diag != nil {
		_ = diag.Close()
	}
	return c.transport.Close()
}
