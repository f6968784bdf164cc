// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/peerlink-foundation/peerlink/lib/clock"
	"github.com/peerlink-foundation/peerlink/lib/metrics"
	"github.com/peerlink-foundation/peerlink/messaging"
)

// State is a signaling session state.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateFailed      State = "failed"
	StateClosed      State = "closed"
)

// terminal reports whether s admits no further transitions.
func (s State) terminal() bool {
	return s == StateFailed || s == StateClosed
}

// answerTimeout is the default maximum time to wait for an SDP answer
// after publishing the offer.
const answerTimeout = 30 * time.Second

// StateHandler observes session state transitions. err is non-nil
// exactly once, on the transition to failed; it is always a
// *NegotiationError.
type StateHandler func(state State, err error)

// TrackHandler observes remote tracks as they start arriving.
type TrackHandler func(track *webrtc.TrackRemote)

// SessionConfig configures a Session.
type SessionConfig struct {
	// ID is the session identifier embedded in the topic names.
	// Required.
	ID string

	// Source acquires local media when the session opens. Required.
	Source MediaSource

	// ICEServers for the peer connection. Optional; sessions connect
	// over host candidates without any.
	ICEServers []webrtc.ICEServer

	// AnswerTimeout bounds the wait for an SDP answer after the
	// offer is published. Defaults to 30s.
	AnswerTimeout time.Duration

	// QoS for every published signaling message.
	QoS byte

	// OnStateChange observes transitions. Optional.
	OnStateChange StateHandler

	// OnRemoteTrack observes remote tracks. Optional.
	OnRemoteTrack TrackHandler
}

// Session negotiates one media session with a counterpart peer. It
// publishes its own signaling on the session's outbound topic and
// consumes the counterpart's on the inbound topic.
//
// All inbound envelopes are dispatched through one entry point and
// serialized behind the session mutex, so transition logic never
// races with itself; pion callbacks re-enter through the same lock.
type Session struct {
	id            string
	conn          messaging.Conn
	source        MediaSource
	iceServers    []webrtc.ICEServer
	answerTimeout time.Duration
	qos           byte
	onStateChange StateHandler
	onRemoteTrack TrackHandler
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *metrics.Metrics

	mu           sync.Mutex
	state        State
	pc           *webrtc.PeerConnection
	localTracks  []LocalTrack
	remoteTracks []*webrtc.TrackRemote
	pendingIce   []webrtc.ICECandidateInit
	remoteSet    bool
	watchdog     *clock.Timer
}

// NewSession creates a session in the idle state. Nothing is
// published or subscribed until Open.
func NewSession(conn messaging.Conn, config SessionConfig, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("signaling: connection is required")
	}
	if config.ID == "" {
		return nil, fmt.Errorf("signaling: session id is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("signaling: media source is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.AnswerTimeout
	if timeout <= 0 {
		timeout = answerTimeout
	}
	return &Session{
		id:            config.ID,
		conn:          conn,
		source:        config.Source,
		iceServers:    config.ICEServers,
		answerTimeout: timeout,
		qos:           config.QoS,
		onStateChange: config.OnStateChange,
		onRemoteTrack: config.OnRemoteTrack,
		clock:         clk,
		logger:        logger.With("session", config.ID),
		metrics:       m,
		state:         StateIdle,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteTracks returns the remote tracks received so far.
func (s *Session) RemoteTracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks := make([]*webrtc.TrackRemote, len(s.remoteTracks))
	copy(tracks, s.remoteTracks)
	return tracks
}

// Open drives idle through connecting into negotiating: acquire
// local media, subscribe the inbound topic, create the peer
// connection, publish the offer. Local ICE candidates are published
// as gathering produces them, not batched.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("signaling: open from state %s", state)
	}
	notify := s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()
	notify()

	tracks, err := s.source.Acquire(ctx)
	if err != nil {
		failure := &NegotiationError{Kind: MediaAcquisitionFailed, Reason: err.Error(), Err: err}
		s.fail(failure)
		return failure
	}

	if err := s.conn.Subscribe(ctx, InboundTopic(s.id), s.handleMessage); err != nil {
		s.closeTracks(tracks)
		failure := &NegotiationError{Kind: ConnectionFailed, Reason: "subscribing inbound topic", Err: err}
		s.fail(failure)
		return failure
	}

	pc, err := s.newPeerConnection(tracks)
	if err != nil {
		s.closeTracks(tracks)
		failure := &NegotiationError{Kind: ConnectionFailed, Reason: err.Error(), Err: err}
		s.fail(failure)
		return failure
	}

	s.mu.Lock()
	if s.state.terminal() {
		// Closed or failed while we were setting up.
		s.mu.Unlock()
		s.closeTracks(tracks)
		pc.Close()
		return fmt.Errorf("signaling: session ended during open")
	}
	s.pc = pc
	s.localTracks = tracks
	s.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		failure := &NegotiationError{Kind: ConnectionFailed, Reason: "creating offer", Err: err}
		s.fail(failure)
		return failure
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		failure := &NegotiationError{Kind: ConnectionFailed, Reason: "setting local description", Err: err}
		s.fail(failure)
		return failure
	}
	if err := s.publishEnvelope(ctx, TypeOffer, SDPData{Type: "offer", SDP: offer.SDP}, ""); err != nil {
		failure := &NegotiationError{Kind: ConnectionFailed, Reason: "publishing offer", Err: err}
		s.fail(failure)
		return failure
	}

	s.mu.Lock()
	notify = func() {}
	if !s.state.terminal() {
		notify = s.setStateLocked(StateNegotiating, nil)
		s.watchdog = s.clock.AfterFunc(s.answerTimeout, s.answerTimedOut)
	}
	s.mu.Unlock()
	notify()
	return nil
}

// SetAudioEnabled toggles transmission on every local audio track.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.setKindEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

// SetVideoEnabled toggles transmission on every local video track.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.setKindEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (s *Session) setKindEnabled(kind webrtc.RTPCodecType, enabled bool) {
	s.mu.Lock()
	tracks := make([]LocalTrack, len(s.localTracks))
	copy(tracks, s.localTracks)
	s.mu.Unlock()
	for _, track := range tracks {
		if track.Kind() == kind {
			track.SetEnabled(enabled)
		}
	}
}

// Close ends the session from any non-terminal state: publishes a
// terminated envelope for the counterpart, releases media and the
// peer connection, unsubscribes. Idempotent; safe from any state.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	notify := s.teardownLocked(StateClosed, nil)
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.publishEnvelope(ctx, TypeTerminated, nil, "client_closed"); err != nil {
		s.logger.Warn("publishing terminated envelope", "error", err)
	}
	if err := s.conn.Unsubscribe(ctx, InboundTopic(s.id)); err != nil {
		s.logger.Warn("unsubscribing inbound topic", "error", err)
	}
	notify()
	return nil
}

// handleMessage is the single inbound dispatch entry point.
func (s *Session) handleMessage(msg messaging.Message) {
	var envelope Envelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		s.logger.Warn("dropping malformed signaling envelope", "error", err)
		return
	}

	switch envelope.Type {
	case TypeAnswer:
		s.handleAnswer(envelope)
	case TypeICE:
		s.handleCandidate(envelope)
	case TypeTerminated:
		s.handleTerminated(envelope)
	case TypeOffer:
		// We are the offerer; a counterpart offer on our inbound
		// topic is a misrouted session.
		s.logger.Warn("ignoring unexpected offer")
	default:
		s.logger.Warn("ignoring unknown signaling type", "type", envelope.Type)
	}
}

func (s *Session) handleAnswer(envelope Envelope) {
	var data SDPData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		s.logger.Warn("dropping malformed answer", "error", err)
		return
	}

	s.mu.Lock()
	if s.state != StateNegotiating || s.remoteSet {
		s.mu.Unlock()
		s.logger.Warn("ignoring answer", "state", s.state)
		return
	}
	pc := s.pc
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.remoteSet = true
	pending := s.pendingIce
	s.pendingIce = nil
	s.mu.Unlock()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: data.SDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		s.fail(&NegotiationError{Kind: ConnectionFailed, Reason: "setting remote description", Err: err})
		return
	}

	// Candidates that raced ahead of the answer, in arrival order.
	for _, candidate := range pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("applying buffered candidate", "error", err)
		}
	}
}

func (s *Session) handleCandidate(envelope Envelope) {
	var data ICEData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		s.logger.Warn("dropping malformed candidate", "error", err)
		return
	}
	candidate := webrtc.ICECandidateInit{
		Candidate:     data.Candidate,
		SDPMLineIndex: data.SDPMLineIndex,
		SDPMid:        data.SDPMid,
	}

	s.mu.Lock()
	if s.state.terminal() || s.pc == nil {
		s.mu.Unlock()
		return
	}
	if !s.remoteSet {
		// No remote description yet: buffer, never drop.
		s.pendingIce = append(s.pendingIce, candidate)
		s.mu.Unlock()
		return
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		s.logger.Warn("applying candidate", "error", err)
	}
}

func (s *Session) handleTerminated(envelope Envelope) {
	s.mu.Lock()
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected {
		// Clean remote shutdown after the session was up.
		s.shutdown(StateClosed, nil)
		return
	}
	reason := envelope.Reason
	if reason == "" {
		reason = "terminated by peer"
	}
	s.fail(&NegotiationError{Kind: Terminated, Reason: reason})
}

// answerTimedOut fires when no answer arrived in time.
func (s *Session) answerTimedOut() {
	s.mu.Lock()
	expired := s.state == StateNegotiating && !s.remoteSet
	s.mu.Unlock()
	if !expired {
		return
	}
	s.fail(&NegotiationError{
		Kind:   ConnectionFailed,
		Reason: fmt.Sprintf("no answer within %s", s.answerTimeout),
	})
}

// newPeerConnection builds the pion PeerConnection with the local
// tracks attached and the signaling callbacks registered.
func (s *Session) newPeerConnection(tracks []LocalTrack) (*webrtc.PeerConnection, error) {
	// Loopback candidates keep same-machine sessions and test
	// environments working where loopback is the only interface.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track.Track()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("adding local track: %w", err)
		}
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return // gathering complete
		}
		init := candidate.ToJSON()
		err := s.publishEnvelope(context.Background(), TypeICE, ICEData{
			Candidate:     init.Candidate,
			SDPMLineIndex: init.SDPMLineIndex,
			SDPMid:        init.SDPMid,
		}, "")
		if err != nil {
			s.logger.Warn("publishing candidate", "error", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.mu.Lock()
		s.remoteTracks = append(s.remoteTracks, track)
		s.mu.Unlock()
		s.logger.Info("remote track", "kind", track.Kind().String(), "id", track.ID())
		if s.onRemoteTrack != nil {
			s.onRemoteTrack(track)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger.Info("ice state change", "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			s.connected()
		case webrtc.ICEConnectionStateFailed:
			s.fail(&NegotiationError{Kind: ConnectionFailed, Reason: "ice failed"})
		}
	})

	return pc, nil
}

// connected moves negotiating to connected. The negotiation object's
// connected event is the only path here.
func (s *Session) connected() {
	s.mu.Lock()
	if s.state != StateNegotiating {
		s.mu.Unlock()
		return
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	notify := s.setStateLocked(StateConnected, nil)
	s.mu.Unlock()
	notify()
}

// fail moves the session to failed, releasing everything. The cause
// reaches the state callback exactly once; reentry is a no-op.
func (s *Session) fail(cause *NegotiationError) {
	s.shutdown(StateFailed, cause)
}

// shutdown performs the common terminal transition: release media,
// close the peer connection, unsubscribe, report.
func (s *Session) shutdown(terminal State, cause *NegotiationError) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	var reported error
	if cause != nil {
		reported = cause
	}
	notify := s.teardownLocked(terminal, reported)
	s.mu.Unlock()

	if err := s.conn.Unsubscribe(context.Background(), InboundTopic(s.id)); err != nil {
		s.logger.Warn("unsubscribing inbound topic", "error", err)
	}
	notify()
}

// teardownLocked stops the watchdog, closes tracks and the peer
// connection, and records the terminal state. It returns the
// deferred state-callback invocation so callers fire it outside the
// lock. Caller holds s.mu.
func (s *Session) teardownLocked(terminal State, cause error) func() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	for _, track := range s.localTracks {
		if err := track.Close(); err != nil {
			s.logger.Warn("closing local track", "error", err)
		}
	}
	s.localTracks = nil
	s.pendingIce = nil
	if s.pc != nil {
		pc := s.pc
		s.pc = nil
		// Close outside pion's callback paths is safe under our lock;
		// its own callbacks re-check state and bail on terminal.
		go pc.Close()
	}
	s.state = terminal
	s.metrics.SignalingTransition(string(terminal))
	s.logger.Info("session state", "state", terminal, "error", cause)

	handler := s.onStateChange
	return func() {
		if handler != nil {
			handler(terminal, cause)
		}
	}
}

// setStateLocked records a non-terminal transition and returns the
// deferred state-callback invocation so callers fire it outside the
// lock. Caller holds s.mu.
func (s *Session) setStateLocked(next State, cause error) func() {
	s.state = next
	s.metrics.SignalingTransition(string(next))
	s.logger.Info("session state", "state", next)
	handler := s.onStateChange
	return func() {
		if handler != nil {
			handler(next, cause)
		}
	}
}

func (s *Session) publishEnvelope(ctx context.Context, envelopeType string, data any, reason string) error {
	payload, err := encodeEnvelope(envelopeType, data, reason)
	if err != nil {
		return err
	}
	return s.conn.Publish(ctx, messaging.Message{
		Topic:   OutboundTopic(s.id),
		Payload: payload,
		QoS:     s.qos,
	})
}

func (s *Session) closeTracks(tracks []LocalTrack) {
	for _, track := range tracks {
		if err := track.Close(); err != nil {
			s.logger.Warn("closing local track", "error", err)
		}
	}
}
