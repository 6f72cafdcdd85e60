package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func main() {
	var (
		addr    string
		text    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:           "ws_smoke",
		Short:         "Drive one private message from sent to read against a running relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return run(ctx, addr, text)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/ws", "WebSocket address")
	cmd.Flags().StringVar(&text, "text", "hello from smoke test", "message text to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "total timeout for the run")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ws_smoke: %v\n", err)
		os.Exit(1)
	}
}

type peer struct {
	name string
	conn *websocket.Conn
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func run(ctx context.Context, addr, text string) error {
	suffix := time.Now().Format("150405.000")
	sender, err := connect(ctx, addr, "smoke-a-"+suffix)
	if err != nil {
		return err
	}
	defer sender.conn.CloseNow()
	receiver, err := connect(ctx, addr, "smoke-b-"+suffix)
	if err != nil {
		return err
	}
	defer receiver.conn.CloseNow()

	if err := sender.send(ctx, proto.InboundTypePrivateMessage, proto.PrivateMessageData{To: receiver.name, Text: text}); err != nil {
		return err
	}
	f, err := receiver.await(ctx, "privateMessage")
	if err != nil {
		return err
	}
	var msg proto.Message
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	fmt.Printf("%s received %q id=%s status=%s\n", receiver.name, msg.Text, msg.ID, msg.Status)

	for _, step := range []struct{ inbound, event string }{
		{proto.InboundTypeDelivered, "messageDelivered"},
		{proto.InboundTypeRead, "messageRead"},
	} {
		if err := receiver.send(ctx, step.inbound, proto.AckData{MessageID: msg.ID, From: sender.name}); err != nil {
			return err
		}
		f, err := sender.await(ctx, step.event)
		if err != nil {
			return err
		}
		var receipt proto.EventReceipt
		if err := json.Unmarshal(f.Data, &receipt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", step.event, err)
		}
		fmt.Printf("%s saw %s by %s\n", sender.name, receipt.Status, receipt.By)
	}

	_ = receiver.conn.Close(websocket.StatusNormalClosure, "bye")
	_ = sender.conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func connect(ctx context.Context, addr, name string) (*peer, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	p := &peer{name: name, conn: conn}
	if err := p.send(ctx, proto.InboundTypeRegister, proto.RegisterData{Identity: name}); err != nil {
		conn.CloseNow()
		return nil, err
	}
	if _, err := p.await(ctx, "registered"); err != nil {
		conn.CloseNow()
		return nil, err
	}
	return p, nil
}

func (p *peer) send(ctx context.Context, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, p.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// await skips unrelated events and fails on the first error frame.
func (p *peer) await(ctx context.Context, event string) (frame, error) {
	for {
		var f frame
		if err := wsjson.Read(ctx, p.conn, &f); err != nil {
			return f, fmt.Errorf("%s waiting for %s: %w", p.name, event, err)
		}
		if f.Type == proto.OutboundTypeError && f.Error != nil {
			return f, fmt.Errorf("%s got %s: %s", p.name, f.Error.Code, f.Error.Msg)
		}
		if f.Event == event {
			return f, nil
		}
	}
}
