package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func benchmarkGroupFanOut(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil)
	go hub.Run(ctx)

	register := func(identity string) *Client {
		c := NewClient(identity, 256)
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandRegister, Identity: identity}
		c.Commands <- &Command{Kind: CommandJoinGroup, Group: "bench"}
		return c
	}

	sender := register("sender")
	clients := make([]*Client, 0, recipients)
	for i := 0; i < recipients; i++ {
		clients = append(clients, register(fmt.Sprintf("member-%d", i)))
	}

	// Drain events for everyone but the first recipient to avoid backpressure.
	target := clients[0]
	drain := func(cl *Client) {
		for range cl.Events {
		}
	}
	go drain(sender)
	for _, c := range clients[1:] {
		go drain(c)
	}

	for {
		info, ok, err := hub.Group(ctx, "bench")
		if err != nil {
			b.Fatal(err)
		}
		if ok && len(info.Members) == recipients+1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	for len(target.Events) > 0 {
		<-target.Events
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sender.Commands <- &Command{Kind: CommandSendGroup, Group: "bench", Text: "payload"}
		for ev := range target.Events {
			if ev.Kind == EventGroupMessage {
				break
			}
		}
	}
}

func BenchmarkGroupFanOut_10(b *testing.B)  { benchmarkGroupFanOut(b, 10) }
func BenchmarkGroupFanOut_100(b *testing.B) { benchmarkGroupFanOut(b, 100) }
func BenchmarkGroupFanOut_500(b *testing.B) { benchmarkGroupFanOut(b, 500) }
