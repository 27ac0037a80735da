/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// subscriberBufferSize bounds each subscriber's outbound channel. A slow
// reader drops messages past this depth rather than stalling the channel
// actor.
const subscriberBufferSize = 10

// mailboxDepth bounds the channel actor's own inbound mailbox. Publishers
// sending into a full mailbox block (ordinary Go channel backpressure)
// rather than the actor ever being forced to drop an inbound publish.
const mailboxDepth = 64

// chanActorMsg is the unexported tagged union the channel actor's mailbox
// carries. ListUsers is an ask (carries a reply channel); attach/detach/
// publish/topic are tells.
type chanActorMsg interface{}

type caListUsers struct{ reply chan []Uuid }

type caAttach struct {
	userID Uuid
	nick   string
	sink   chan *ChatClientMessage
}

type caDetach struct{ userID Uuid }

type caPublish struct {
	userID Uuid
	nick   string
	msg    Message
}

type caSetTopic struct{ topic string }

type subscriber struct {
	nick string
	sink chan *ChatClientMessage
}

// ChannelActor owns the set of live party flows subscribed to one channel
// and runs its fan-out. It is an independent serial executor: exactly one
// goroutine ever touches ChannelActor.subscribers, so that map carries no
// mutex.
type ChannelActor struct {
	id   Uuid
	name string

	mailbox   chan chanActorMsg
	closed    chan struct{}
	closeOnce sync.Once

	log *logrus.Entry

	// subscribers is owned exclusively by run(); never touched from
	// another goroutine.
	subscribers map[Uuid]subscriber
	topic       string

	// count mirrors len(subscribers), kept as an atomic so the coordinator
	// can read a channel's live user count (for ChannelInfo) without a
	// mailbox round trip. Only List's user-list merge actually needs to ask
	// the actor; every other ChannelInfo-returning command stays
	// synchronous by reading this instead.
	count atomic.Int32
}

// NewChannelActor starts a channel actor's mailbox goroutine and returns a
// handle to it.
func NewChannelActor(id Uuid, name string, log *logrus.Entry) *ChannelActor {
	a := &ChannelActor{
		id:          id,
		name:        name,
		mailbox:     make(chan chanActorMsg, mailboxDepth),
		closed:      make(chan struct{}),
		log:         log.WithField("channel", name),
		subscribers: make(map[Uuid]subscriber),
	}
	go a.run()
	return a
}

func (a *ChannelActor) run() {
	for {
		select {
		case msg := <-a.mailbox:
			a.handle(msg)
		case <-a.closed:
			a.log.Debug("chatcore: channel actor stopping")
			return
		}
	}
}

func (a *ChannelActor) handle(msg chanActorMsg) {
	switch m := msg.(type) {
	case caListUsers:
		ids := make([]Uuid, 0, len(a.subscribers))
		for id := range a.subscribers {
			ids = append(ids, id)
		}
		m.reply <- ids

	case caAttach:
		a.subscribers[m.userID] = subscriber{nick: m.nick, sink: m.sink}
		a.count.Store(int32(len(a.subscribers)))
		a.log.WithField("user", m.userID).Debug("chatcore: party attached")
		a.broadcast(EventJoined, m.userID, m.nick, "", "")

	case caDetach:
		sub, ok := a.subscribers[m.userID]
		if !ok {
			return
		}
		delete(a.subscribers, m.userID)
		a.count.Store(int32(len(a.subscribers)))
		a.log.WithField("user", m.userID).Debug("chatcore: party detached")
		a.broadcast(EventParted, m.userID, sub.nick, "", "")

	case caPublish:
		a.broadcast(EventPublish, m.userID, m.nick, m.msg.Text, "")

	case caSetTopic:
		a.topic = m.topic
		a.broadcast(EventTopic, NilUuid, "", "", m.topic)

	default:
		a.log.Warnf("chatcore: channel actor got unknown message type %T", msg)
	}
}

// broadcast delivers one freshly pooled *ChatClientMessage per subscriber
// (never the same pointer to two subscribers; see newPooledMessage), in
// the order this call was processed. Send is non-blocking per subscriber: a
// full sink is logged and dropped, never blocking delivery to the other
// subscribers. The actor itself never evicts the slow subscriber; that
// decision belongs to its transport, via the subscriber's own KillSwitch.
func (a *ChannelActor) broadcast(kind EventKind, senderID Uuid, senderNick, text, topic string) {
	var urls []string
	if kind == EventPublish {
		urls = extractURLs(text)
	}

	for id, sub := range a.subscribers {
		env := newPooledMessage()
		env.Kind = kind
		env.ChannelID = a.id
		env.ChannelName = a.name
		env.SenderID = senderID
		env.SenderNick = senderNick
		env.Text = text
		env.URLs = urls
		env.Topic = topic

		select {
		case sub.sink <- env:
		default:
			ReleaseMessage(env)
			a.log.WithField("user", id).Warn("chatcore: dropped message, subscriber sink full")
		}
	}
}

// attach registers sink as userID's subscription to this channel's fan-out.
// Fire-and-forget ("tell"): the caller (PartyFlow) always attaches before
// it can ever publish, and the mailbox is FIFO per sender, so no reply is
// needed to establish ordering.
func (a *ChannelActor) attach(userID Uuid, nick string, sink chan *ChatClientMessage) {
	select {
	case a.mailbox <- caAttach{userID: userID, nick: nick, sink: sink}:
	case <-a.closed:
	}
}

// detach removes userID's subscription, if any.
func (a *ChannelActor) detach(userID Uuid) {
	select {
	case a.mailbox <- caDetach{userID: userID}:
	case <-a.closed:
	}
}

// publish fans msg out to every subscriber attached at the time this call
// is processed, tagged with userID/nick as the publisher.
func (a *ChannelActor) publish(userID Uuid, nick string, msg Message) {
	select {
	case a.mailbox <- caPublish{userID: userID, nick: nick, msg: msg}:
	case <-a.closed:
	}
}

// announceTopic broadcasts a system EventTopic message to current
// subscribers. Does not store the topic anywhere outside the actor; the
// coordinator's ChannelData.Topic remains the source of truth.
func (a *ChannelActor) announceTopic(topic string) {
	select {
	case a.mailbox <- caSetTopic{topic: topic}:
	case <-a.closed:
	}
}

// ListUsers asks the actor for its current subscriber ids. This is the one
// "ask" the coordinator performs against a channel actor, always from a
// worker goroutine rather than the coordinator's own mailbox loop (see
// Server.handleList).
func (a *ChannelActor) ListUsers(ctx context.Context) ([]Uuid, error) {
	reply := make(chan []Uuid, 1)

	select {
	case a.mailbox <- caListUsers{reply: reply}:
	case <-a.closed:
		return nil, ErrChannelNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case ids := <-reply:
		return ids, nil
	case <-a.closed:
		return nil, ErrChannelNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ID returns the channel's identifier.
func (a *ChannelActor) ID() Uuid {
	return a.id
}

// UserCount returns the channel's current live subscriber count without a
// mailbox round trip.
func (a *ChannelActor) UserCount() int {
	return int(a.count.Load())
}

// Close stops the actor's mailbox goroutine. Safe to call more than once.
func (a *ChannelActor) Close() {
	a.closeOnce.Do(func() {
		close(a.closed)
	})
}
