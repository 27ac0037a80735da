/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

import "sync"

// KillSwitch is a one-shot handle that terminates an associated stream.
// Shutdown is idempotent: calling it more than once is harmless, the second
// and later calls are no-ops.
type KillSwitch interface {
	// Shutdown terminates the stream this switch guards. Safe to call from
	// any goroutine, any number of times.
	Shutdown()

	// Done returns a channel that is closed once Shutdown has run.
	Done() <-chan struct{}
}

// NewKillSwitch returns a KillSwitch that runs onShutdown exactly once, the
// first time Shutdown is called. onShutdown may be nil.
func NewKillSwitch(onShutdown func()) KillSwitch {
	return &killSwitch{
		done:       make(chan struct{}),
		onShutdown: onShutdown,
	}
}

type killSwitch struct {
	once       sync.Once
	done       chan struct{}
	onShutdown func()
}

func (k *killSwitch) Shutdown() {
	k.once.Do(func() {
		if k.onShutdown != nil {
			k.onShutdown()
		}
		close(k.done)
	})
}

func (k *killSwitch) Done() <-chan struct{} {
	return k.done
}
