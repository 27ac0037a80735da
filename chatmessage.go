/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

import (
	"bytes"
	"encoding/json"

	"github.com/btnmasher/chatcore/shared/itempool"
	"github.com/btnmasher/chatcore/shared/pool"
	"mvdan.cc/xurls/v2"
)

// Message is what a user's transport hands to a PartyFlow's inbound half: a
// single piece of chat text to publish to the channel. The core never
// parses a wire protocol; a transport has already done that by the time it
// calls Inbound.
type Message struct {
	Text string
}

// EventKind tags the variants of ChatClientMessage.
type EventKind uint8

const (
	// EventPublish carries a user's published chat text.
	EventPublish EventKind = iota
	// EventJoined announces a party attaching to the channel's fan-out.
	EventJoined
	// EventParted announces a party detaching from the channel's fan-out.
	EventParted
	// EventTopic announces a channel's topic changing.
	EventTopic
)

func (k EventKind) String() string {
	switch k {
	case EventPublish:
		return "publish"
	case EventJoined:
		return "joined"
	case EventParted:
		return "parted"
	case EventTopic:
		return "topic"
	default:
		return "unknown"
	}
}

// ChatClientMessage is the outbound envelope a channel actor's fan-out
// delivers to every attached subscriber.
type ChatClientMessage struct {
	Kind EventKind

	ChannelID   Uuid
	ChannelName string

	SenderID   Uuid
	SenderNick string

	Text string
	URLs []string

	Topic string
}

// Scrub clears a ChatClientMessage back to its zero value so it is safe to
// hand back out of a pool. Implements shared/itempool.ScrubbableItem.
func (m *ChatClientMessage) Scrub() {
	*m = ChatClientMessage{}
}

// Render renders the envelope to a JSON wire frame. A transport is free to
// use its own encoding instead; this is offered for transport/ws and for
// tests.
func (m *ChatClientMessage) Render() ([]byte, error) {
	buf := bufferPool.New()
	defer bufferPool.Recycle(buf)

	enc := json.NewEncoder(buf)
	if err := enc.Encode(wireMessage{
		Kind:        m.Kind.String(),
		ChannelID:   m.ChannelID,
		ChannelName: m.ChannelName,
		SenderID:    m.SenderID,
		SenderNick:  m.SenderNick,
		Text:        m.Text,
		URLs:        m.URLs,
		Topic:       m.Topic,
	}); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

type wireMessage struct {
	Kind        string   `json:"kind"`
	ChannelID   Uuid     `json:"channel_id"`
	ChannelName string   `json:"channel_name"`
	SenderID    Uuid     `json:"sender_id,omitempty"`
	SenderNick  string   `json:"sender_nick,omitempty"`
	Text        string   `json:"text,omitempty"`
	URLs        []string `json:"urls,omitempty"`
	Topic       string   `json:"topic,omitempty"`
}

// envelopePoolMax bounds shared/itempool's channel-backed queue of recycled
// envelopes.
const envelopePoolMax = 1000

// envelopePool recycles *ChatClientMessage across the fan-out hot path.
var envelopePool = itempool.New[*ChatClientMessage](envelopePoolMax, func() *ChatClientMessage {
	return &ChatClientMessage{}
})

// resettableBuffer adapts *bytes.Buffer to shared/pool.Resettable.
type resettableBuffer struct {
	bytes.Buffer
}

func (b *resettableBuffer) Reset() {
	b.Buffer.Reset()
}

var bufferPoolImpl = pool.New[*resettableBuffer](func() *resettableBuffer {
	return &resettableBuffer{}
})

// bufferPool recycles the scratch buffers Render encodes into.
var bufferPool = &bufferPoolImpl

// urlMatcher extracts URLs from published chat text, scanned server-side so
// any transport can linkify without repeating the regex.
var urlMatcher = xurls.Relaxed()

// extractURLs returns the URLs found in text, or nil if there are none.
func extractURLs(text string) []string {
	found := urlMatcher.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	return found
}

// newPooledMessage hands out a *ChatClientMessage from envelopePool. Each
// call returns a distinct, single-owner object (shared/itempool never hands
// the same pointer out twice until it's recycled), so it's only safe for a
// channel actor to use one per subscriber delivery, never to fan the same
// pointer out to several subscribers.
func newPooledMessage() *ChatClientMessage {
	return envelopePool.New()
}

// ReleaseMessage returns msg to the shared envelope pool. Transports should
// call this once they're done with a message they received off a
// PartyFlow's Outbound channel (after writing it to the wire, say); it's an
// optimization, not a correctness requirement; an un-released message is
// simply garbage collected normally.
func ReleaseMessage(msg *ChatClientMessage) {
	if msg == nil {
		return
	}
	envelopePool.Recycle(msg)
}
