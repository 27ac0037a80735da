/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

// PartyFlow is the bidirectional stream segment connecting one user to one
// channel actor: Inbound converts a transport-supplied Message into a
// publish against the channel, Outbound is the sink the channel actor's
// fan-out writes into. A transport's Materializer wires its socket's read
// loop to Inbound and its write loop to draining Outbound.
//
// NewPartyFlow only builds the flow graph; it does not attach anything to
// the channel actor's subscriber set. Attachment happens when the
// coordinator calls the user's Materializer against the returned *PartyFlow
// (see coordinator.go), at which point the Materializer is expected to
// eventually call Attach to start receiving fan-out and Detach (directly or
// via the KillSwitch it returns) to stop.
type PartyFlow struct {
	UserID    Uuid
	ChannelID Uuid
	Nick      string
	channel   *ChannelActor

	// Outbound is the channel a transport drains to deliver fan-out to its
	// user. Buffered to subscriberBufferSize; the channel actor never
	// blocks writing to it (see ChannelActor.broadcast).
	Outbound chan *ChatClientMessage
}

// NewPartyFlow builds the (not-yet-attached) flow graph for userID/nick
// against channel. The caller is expected to pass the result to a
// Materializer.
func NewPartyFlow(channel *ChannelActor, userID Uuid, nick string) *PartyFlow {
	return &PartyFlow{
		UserID:    userID,
		ChannelID: channel.ID(),
		Nick:      nick,
		channel:   channel,
		Outbound:  make(chan *ChatClientMessage, subscriberBufferSize),
	}
}

// Attach registers this flow's Outbound as userID's live subscription to
// the channel's fan-out. A Materializer calls this once it is ready to
// start receiving messages.
func (f *PartyFlow) Attach() {
	f.channel.attach(f.UserID, f.Nick, f.Outbound)
}

// Detach removes this flow's subscription from the channel's fan-out. Safe
// to call even if Attach was never called, or more than once; the channel
// actor's detach handler is a no-op for an unknown userID.
func (f *PartyFlow) Detach() {
	f.channel.detach(f.UserID)
}

// Inbound publishes msg to the channel, tagged as coming from this flow's
// user. The caller's transport read loop calls this for every chat message
// the user sends.
func (f *PartyFlow) Inbound(msg Message) {
	f.channel.publish(f.UserID, f.Nick, msg)
}
