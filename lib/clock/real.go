// Copyright 2026 The Peerlink Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	var once sync.Once
	stopped := false
	return &Timer{
		stopFunc: func() bool {
			once.Do(func() { stopped = timer.Stop() })
			return stopped
		},
	}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
