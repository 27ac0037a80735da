/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

// Materializer turns a prepared *PartyFlow into a running stream and hands
// back the KillSwitch that stops it. A nil Materializer marks a "headless"
// user (a bot or a test fixture): such a user can join a channel for
// bookkeeping purposes, but nothing ever attaches to the channel actor's
// fan-out on its behalf, and it will never hold a live KillSwitch.
//
// The coordinator calls a Materializer synchronously, inside the mailbox
// step that performs the join/connect, and guards the call so a panicking
// Materializer degrades to an Error reply (see coordinator.go).
type Materializer func(flow *PartyFlow) KillSwitch

// Subscription records what a user's membership in one channel looks like.
// Live reports whether Switch is a real, attached KillSwitch (true) or a
// headless join with no underlying stream (false, Switch is nil). A user's
// Materializer and its Subscriptions always agree: a live user holds only
// live subscriptions, a headless user only headless ones.
type Subscription struct {
	Switch KillSwitch
	Live   bool
}

// headlessSubscription is the zero-ish subscription recorded for a user
// with no Materializer.
var headlessSubscription = Subscription{Live: false}
