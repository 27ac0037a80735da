/*
   Copyright (c) 2024, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package chatcore_test

import (
	"context"
	"io"
	"time"

	chatcore "github.com/btnmasher/chatcore"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

func newTestServer() *chatcore.Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return chatcore.NewServer(chatcore.WithLogger(logger))
}

// liveMaterializer attaches the party flow immediately and returns a
// KillSwitch that detaches it on shutdown, the minimum a real transport
// does around its own socket read/write loop.
func liveMaterializer(flow *chatcore.PartyFlow) chatcore.KillSwitch {
	flow.Attach()
	return chatcore.NewKillSwitch(flow.Detach)
}

var _ = Describe("Server coordinator", func() {
	var (
		server *chatcore.Server
		ctx    context.Context
	)

	BeforeEach(func() {
		server = newTestServer()
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("an empty server", func() {
		It("lists no channels", func() {
			channels, err := server.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(channels).To(BeEmpty())
		})
	})

	Describe("NewChannel", func() {
		It("creates a channel with zero users", func() {
			info, err := server.NewChannel(ctx, "hardware")
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Name).To(Equal("hardware"))
			Expect(info.UserCount).To(Equal(0))
		})

		It("returns the existing channel on a repeat name, without error", func() {
			first, err := server.NewChannel(ctx, "hardware")
			Expect(err).NotTo(HaveOccurred())

			second, err := server.NewChannel(ctx, "hardware")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
		})

		DescribeTable("rejects invalid channel names",
			func(name string) {
				_, err := server.NewChannel(ctx, name)
				Expect(err).To(MatchError(chatcore.ErrInvalidChannelName))
			},
			Entry("empty name", ""),
			Entry("leading digit", "1bad"),
		)

		It("accepts a long letter-led name", func() {
			info, err := server.NewChannel(ctx, "averyverylongchannelname")
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Name).To(Equal("averyverylongchannelname"))
		})
	})

	Describe("Connect", func() {
		It("registers a headless user with no channels", func() {
			user, err := server.Connect(ctx, "alice", nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Nick).To(Equal("alice"))
			Expect(user.Channels).To(BeEmpty())
		})

		It("rejects a duplicate nick", func() {
			_, err := server.Connect(ctx, "alice", nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = server.Connect(ctx, "alice", nil, nil, nil)
			Expect(err).To(MatchError(chatcore.ErrNickAlreadyExists))
		})

		It("silently drops unknown channel ids from the initial subscription list", func() {
			user, err := server.Connect(ctx, "dave", nil, nil, []chatcore.Uuid{chatcore.NewIdentifierService().NewID()})
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Channels).To(BeEmpty())
		})
	})

	Describe("Join and Leave", func() {
		It("joins an existing channel by id at Connect time, then leaves it", func() {
			cats, err := server.NewChannel(ctx, "cats")
			Expect(err).NotTo(HaveOccurred())

			bob, err := server.Connect(ctx, "bob", nil, nil, []chatcore.Uuid{cats.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(bob.Channels).To(HaveLen(1))
			Expect(bob.Channels[0].Name).To(Equal("cats"))

			Expect(server.Leave(ctx, bob.ID, cats.ID)).To(Succeed())

			err = server.Leave(ctx, bob.ID, cats.ID)
			Expect(err).To(MatchError(chatcore.ErrNotJoined))
		})
	})

	Describe("Join auto-creating a channel, then DropChannel", func() {
		It("creates the channel, joins it, and clears it from the user on drop", func() {
			c, err := server.Connect(ctx, "c", nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Join(ctx, c.ID, "newchan")).To(Succeed())

			newchan, err := server.FindChannel(ctx, "newchan")
			Expect(err).NotTo(HaveOccurred())

			Expect(server.DropChannel(ctx, newchan.ID)).To(Succeed())

			got, err := server.GetUser(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Channels).To(BeEmpty())
		})
	})

	Describe("Join edge cases", func() {
		It("rejects joining the same channel twice", func() {
			u, err := server.Connect(ctx, "erin", nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Join(ctx, u.ID, "lobby")).To(Succeed())

			err = server.Join(ctx, u.ID, "lobby")
			Expect(err).To(MatchError(chatcore.ErrAlreadyJoined))
		})

		It("rejects an invalid auto-created channel name", func() {
			u, err := server.Connect(ctx, "frank", nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			err = server.Join(ctx, u.ID, "1bad")
			Expect(err).To(MatchError(chatcore.ErrInvalidChannelName))
		})

		It("reports a not-found user", func() {
			err := server.Join(ctx, chatcore.NilUuid, "lobby")
			Expect(err).To(MatchError(chatcore.ErrUserNotFound))
		})
	})

	Describe("FindChannel", func() {
		It("errors for a channel name that was never created", func() {
			_, err := server.FindChannel(ctx, "ghost")
			Expect(err).To(MatchError(chatcore.ErrChannelNameNotFound))
		})
	})

	Describe("DropChannel", func() {
		It("is idempotent: a second drop reports not found", func() {
			ch, err := server.NewChannel(ctx, "temp")
			Expect(err).NotTo(HaveOccurred())

			Expect(server.DropChannel(ctx, ch.ID)).To(Succeed())

			err = server.DropChannel(ctx, ch.ID)
			Expect(err).To(MatchError(chatcore.ErrChannelNotFound))
		})

		It("severs every subscriber's membership", func() {
			ch, err := server.NewChannel(ctx, "doomed")
			Expect(err).NotTo(HaveOccurred())

			u1, err := server.Connect(ctx, "u1", nil, liveMaterializer, []chatcore.Uuid{ch.ID})
			Expect(err).NotTo(HaveOccurred())
			u2, err := server.Connect(ctx, "u2", nil, liveMaterializer, []chatcore.Uuid{ch.ID})
			Expect(err).NotTo(HaveOccurred())

			Expect(server.DropChannel(ctx, ch.ID)).To(Succeed())

			got1, err := server.GetUser(ctx, u1.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got1.Channels).To(BeEmpty())

			got2, err := server.GetUser(ctx, u2.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got2.Channels).To(BeEmpty())
		})
	})

	Describe("Disconnect", func() {
		It("round-trips: connecting then disconnecting a headless user restores prior state", func() {
			before, err := server.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())

			user, err := server.Connect(ctx, "ephemeral", nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Disconnect(ctx, user.ID)).To(Succeed())

			after, err := server.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
		})

		It("shuts down every live subscription the user held", func() {
			ch, err := server.NewChannel(ctx, "goodbye")
			Expect(err).NotTo(HaveOccurred())

			var shutdownCalled bool
			mat := func(flow *chatcore.PartyFlow) chatcore.KillSwitch {
				flow.Attach()
				return chatcore.NewKillSwitch(func() {
					shutdownCalled = true
					flow.Detach()
				})
			}

			u, err := server.Connect(ctx, "leaving", nil, mat, []chatcore.Uuid{ch.ID})
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Disconnect(ctx, u.ID)).To(Succeed())
			Expect(shutdownCalled).To(BeTrue())
		})
	})

	Describe("join/leave round trip", func() {
		It("restores the user's channel map and fires exactly one shutdown", func() {
			ch, err := server.NewChannel(ctx, "roundtrip")
			Expect(err).NotTo(HaveOccurred())

			shutdownCount := 0
			mat := func(flow *chatcore.PartyFlow) chatcore.KillSwitch {
				flow.Attach()
				return chatcore.NewKillSwitch(func() {
					shutdownCount++
					flow.Detach()
				})
			}

			u, err := server.Connect(ctx, "rt", nil, mat, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Channels).To(BeEmpty())

			Expect(server.Join(ctx, u.ID, ch.Name)).To(Succeed())
			Expect(server.Leave(ctx, u.ID, ch.ID)).To(Succeed())

			got, err := server.GetUser(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Channels).To(BeEmpty())
			Expect(shutdownCount).To(Equal(1))
		})
	})

	Describe("uniqueness invariants", func() {
		It("never allows two channels to share a name, and NewChannel just returns the existing one", func() {
			a, err := server.NewChannel(ctx, "shared")
			Expect(err).NotTo(HaveOccurred())
			b, err := server.NewChannel(ctx, "shared")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.ID).To(Equal(b.ID))

			state, err := server.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())
			names := map[string]int{}
			for _, ch := range state.Channels {
				names[ch.Name]++
			}
			for _, count := range names {
				Expect(count).To(Equal(1))
			}
		})

		It("never allows two users to share a nick", func() {
			_, err := server.Connect(ctx, "unique", nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = server.Connect(ctx, "unique", nil, nil, nil)
			Expect(err).To(HaveOccurred())

			state, err := server.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())
			nicks := map[string]int{}
			for _, u := range state.Users {
				nicks[u.Nick]++
			}
			for _, count := range nicks {
				Expect(count).To(Equal(1))
			}
		})
	})

	Describe("subscription integrity", func() {
		It("only ever references channel ids that still exist", func() {
			ch, err := server.NewChannel(ctx, "integrity")
			Expect(err).NotTo(HaveOccurred())
			u, err := server.Connect(ctx, "checker", nil, nil, []chatcore.Uuid{ch.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Channels).To(HaveLen(1))

			state, err := server.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())

			existing := map[chatcore.Uuid]bool{}
			for _, c := range state.Channels {
				existing[c.ID] = true
			}
			for _, usr := range state.Users {
				for chID := range usr.Channels {
					Expect(existing[chID]).To(BeTrue())
				}
			}
		})
	})

	Describe("switch bijection", func() {
		It("ties every live subscription to an actually-attached party flow", func() {
			ch, err := server.NewChannel(ctx, "bijection")
			Expect(err).NotTo(HaveOccurred())

			u, err := server.Connect(ctx, "liveuser", nil, liveMaterializer, []chatcore.Uuid{ch.ID})
			Expect(err).NotTo(HaveOccurred())

			state, err := server.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())

			liveCount := 0
			for _, usr := range state.Users {
				if usr.ID != u.ID {
					continue
				}
				for _, sub := range usr.Channels {
					if sub.Live {
						liveCount++
						Expect(sub.Switch).NotTo(BeNil())
					}
				}
			}
			Expect(liveCount).To(Equal(1))
		})
	})

	Describe("materializer failure", func() {
		It("surfaces as an error and leaves the user unconnected", func() {
			ch, err := server.NewChannel(ctx, "panicky")
			Expect(err).NotTo(HaveOccurred())

			mat := func(flow *chatcore.PartyFlow) chatcore.KillSwitch {
				panic("boom")
			}

			_, err = server.Connect(ctx, "unlucky", nil, mat, []chatcore.Uuid{ch.ID})
			Expect(err).To(HaveOccurred())

			state, err := server.ReadState(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Users).To(BeEmpty())

			_, err = server.FindChannel(ctx, "panicky")
			Expect(err).NotTo(HaveOccurred())

			// the coordinator must still be alive and answering commands.
			channels, err := server.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(channels).NotTo(BeNil())
		})
	})

	Describe("SetTopic", func() {
		It("errors for an unknown channel id", func() {
			err := server.SetTopic(ctx, chatcore.NilUuid, "whatever")
			Expect(err).To(MatchError(chatcore.ErrChannelNotFound))
		})

		It("updates the topic and announces it to subscribers", func() {
			ch, err := server.NewChannel(ctx, "topical")
			Expect(err).NotTo(HaveOccurred())

			var flow *chatcore.PartyFlow
			mat := func(f *chatcore.PartyFlow) chatcore.KillSwitch {
				flow = f
				f.Attach()
				return chatcore.NewKillSwitch(f.Detach)
			}

			_, err = server.Connect(ctx, "listener", nil, mat, []chatcore.Uuid{ch.ID})
			Expect(err).NotTo(HaveOccurred())

			Expect(server.SetTopic(ctx, ch.ID, "all things topical")).To(Succeed())

			updated, err := server.FindChannel(ctx, "topical")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Topic).To(Equal("all things topical"))

			Eventually(flow.Outbound, time.Second).Should(Receive(
				HaveField("Kind", chatcore.EventTopic)))
		})
	})

	Describe("GetUser and Disconnect against unknown ids", func() {
		It("reports a not-found user on GetUser", func() {
			_, err := server.GetUser(ctx, chatcore.NilUuid)
			Expect(err).To(MatchError(chatcore.ErrUserNotFound))
		})

		It("reports a not-found user on Disconnect", func() {
			err := server.Disconnect(ctx, chatcore.NilUuid)
			Expect(err).To(MatchError(chatcore.ErrUserNotFound))
		})
	})

	Describe("UpdateState", func() {
		It("runs the supplied function over a state snapshot", func() {
			_, err := server.NewChannel(ctx, "observed")
			Expect(err).NotTo(HaveOccurred())

			var seen []string
			err = server.UpdateState(ctx, func(state chatcore.ServerData) chatcore.ServerData {
				for _, ch := range state.Channels {
					seen = append(seen, ch.Name)
				}
				return state
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(ConsistOf("observed"))
		})
	})

	Describe("raw envelope commands", func() {
		It("answers a hand-built CmdNewChannel sent through Send", func() {
			reply, err := server.Send(ctx, chatcore.CmdNewChannel{
				Envelope: chatcore.NewEnvelope(),
				Name:     "rawwire",
			})
			Expect(err).NotTo(HaveOccurred())

			info, ok := reply.(chatcore.ReplyChannelInfo)
			Expect(ok).To(BeTrue())
			Expect(info.Channel.Name).To(Equal("rawwire"))
		})

		It("rejects a command built without NewEnvelope", func() {
			_, err := server.Send(ctx, chatcore.CmdList{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("List's live user counts", func() {
		It("reflects currently attached subscribers, not a fixed shortcut", func() {
			ch, err := server.NewChannel(ctx, "counted")
			Expect(err).NotTo(HaveOccurred())

			_, err = server.Connect(ctx, "counted-user", nil, liveMaterializer, []chatcore.Uuid{ch.ID})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				channels, err := server.List(ctx)
				Expect(err).NotTo(HaveOccurred())
				for _, c := range channels {
					if c.Name == "counted" {
						return c.UserCount
					}
				}
				return -1
			}, time.Second).Should(Equal(1))
		})
	})
})
