// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// MediaSource acquires the local tracks for a session. Acquisition
// happens once, when the session opens; failure is terminal for the
// session.
type MediaSource interface {
	Acquire(ctx context.Context) ([]LocalTrack, error)
}

// LocalTrack is one local media track attached to a session. Enable
// state toggles whether captured data is transmitted; toggling never
// tears the session down.
type LocalTrack interface {
	Track() webrtc.TrackLocal
	Kind() webrtc.RTPCodecType
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// StaticTrack is a sample-writing local track for headless peers and
// tests: the application pushes encoded samples and the track drops
// them while disabled.
type StaticTrack struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	closed  atomic.Bool
}

// NewStaticTrack creates a sample-writing track. The codec capability
// determines the track kind (audio/opus, video/vp8, and so on).
func NewStaticTrack(codec webrtc.RTPCodecCapability, id, streamID string) (*StaticTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("creating local track %s: %w", id, err)
	}
	t := &StaticTrack{track: track}
	t.enabled.Store(true)
	return t, nil
}

// WriteSample transmits one encoded sample. Samples written while
// the track is disabled or closed are dropped without error.
func (t *StaticTrack) WriteSample(sample media.Sample) error {
	if !t.enabled.Load() || t.closed.Load() {
		return nil
	}
	return t.track.WriteSample(sample)
}

func (t *StaticTrack) Track() webrtc.TrackLocal { return t.track }

func (t *StaticTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *StaticTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *StaticTrack) Enabled() bool { return t.enabled.Load() }

func (t *StaticTrack) Close() error {
	t.closed.Store(true)
	return nil
}

// StaticSource is a MediaSource over a fixed set of static tracks.
type StaticSource struct {
	tracks []*StaticTrack
}

// NewStaticSource wraps tracks as a MediaSource.
func NewStaticSource(tracks ...*StaticTrack) *StaticSource {
	return &StaticSource{tracks: tracks}
}

func (s *StaticSource) Acquire(ctx context.Context) ([]LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acquired := make([]LocalTrack, len(s.tracks))
	for i, track := range s.tracks {
		acquired[i] = track
	}
	return acquired, nil
}
