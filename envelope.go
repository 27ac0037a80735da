/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

// ServerControlMessage is the tagged union of every command the coordinator
// accepts. Concrete variants are the Cmd* types below.
type ServerControlMessage interface {
	replyChan() chan ServerReplyMessage
}

// Envelope is embedded by every Cmd* variant to carry its buffer-of-one
// reply channel. A buffered reply channel means a caller that abandons its
// wait (context cancellation, timeout) never wedges the mailbox goroutine
// trying to deliver a reply nobody is listening for.
type Envelope struct {
	reply chan ServerReplyMessage
}

// NewEnvelope primes an Envelope with its reply channel. Every Cmd* value
// constructed outside the typed Server methods must embed one, or the
// coordinator has nowhere to deliver the reply.
func NewEnvelope() Envelope {
	return Envelope{reply: make(chan ServerReplyMessage, 1)}
}

func (e Envelope) replyChan() chan ServerReplyMessage { return e.reply }

// CmdList asks for the current channel roster with live user counts.
type CmdList struct{ Envelope }

// CmdNewChannel creates a channel if absent, or returns the existing one.
type CmdNewChannel struct {
	Envelope
	Name string
}

// CmdFindChannel looks a channel up by name without mutating anything.
type CmdFindChannel struct {
	Envelope
	Name string
}

// CmdSetTopic updates a channel's topic.
type CmdSetTopic struct {
	Envelope
	ChannelID Uuid
	Topic     string
}

// CmdDropChannel removes a channel and kicks every subscriber.
type CmdDropChannel struct {
	Envelope
	ChannelID Uuid
}

// CmdConnect registers a new user and materializes a subscription for each
// listed channel id that still exists.
type CmdConnect struct {
	Envelope
	Nick         string
	Email        *string
	Materializer Materializer
	ChannelIDs   []Uuid
}

// CmdDisconnect shuts every subscription of a user and removes it.
type CmdDisconnect struct {
	Envelope
	UserID Uuid
}

// CmdJoin joins a user to a channel by name, auto-creating the channel if
// it doesn't exist and the name is valid.
type CmdJoin struct {
	Envelope
	UserID      Uuid
	ChannelName string
}

// CmdLeave shuts a user's subscription to one channel.
type CmdLeave struct {
	Envelope
	UserID    Uuid
	ChannelID Uuid
}

// CmdGetUser looks a user up by id.
type CmdGetUser struct {
	Envelope
	UserID Uuid
}

// CmdReadState returns a full snapshot of ServerData. Intended for
// inspection and testing, not for steady-state traffic.
type CmdReadState struct{ Envelope }

// CmdUpdateState applies fn to a snapshot of ServerData and discards the
// result; it exists so tests can assert invariants hold under arbitrary
// mutation sequences without reaching around the coordinator's mailbox.
// fn's return value is informational only: mutating ServerData in place
// has no effect on the coordinator's real state, which remains the sole
// property of the channel/user maps behind the mailbox.
type CmdUpdateState struct {
	Envelope
	Fn func(ServerData) ServerData
}

// ServerReplyMessage is the tagged union of every reply the coordinator
// returns. Concrete variants are the Reply* types below.
type ServerReplyMessage interface {
	isServerReplyMessage()
}

// ReplyChannelList answers CmdList.
type ReplyChannelList struct{ Channels []ChannelInfo }

// ReplyChannelInfo answers CmdNewChannel/CmdFindChannel.
type ReplyChannelInfo struct{ Channel ChannelInfo }

// ReplyUserInfo answers CmdConnect/CmdGetUser.
type ReplyUserInfo struct{ User UserInfo }

// ReplyState answers CmdReadState.
type ReplyState struct{ State ServerData }

// ReplyAck acknowledges a command with no payload to return
// (CmdSetTopic/CmdDropChannel/CmdDisconnect/CmdJoin/CmdLeave/CmdUpdateState).
type ReplyAck struct{}

// ReplyError answers any command that failed. Err is one of the Error
// constants in errors.go, except when a Materializer fails during
// CmdConnect/CmdJoin: Err then carries a message describing that failure.
type ReplyError struct{ Err error }

func (ReplyChannelList) isServerReplyMessage() {}
func (ReplyChannelInfo) isServerReplyMessage() {}
func (ReplyUserInfo) isServerReplyMessage()    {}
func (ReplyState) isServerReplyMessage()       {}
func (ReplyAck) isServerReplyMessage()         {}
func (ReplyError) isServerReplyMessage()       {}
