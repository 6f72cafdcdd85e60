package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wirechat-client: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		addr  string
		user  string
		to    string
		group string
	)

	cmd := &cobra.Command{
		Use:           "wirechat-client",
		Short:         "Interactive WebSocket client for the relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := &session{user: user, to: to, group: group}
			return s.run(ctx, addr)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "ws://localhost:8080/ws", "WebSocket address")
	flags.StringVarP(&user, "user", "u", "", "identity to register")
	flags.StringVar(&to, "to", "", "default private recipient")
	flags.StringVarP(&group, "group", "g", "", "group to join and talk in")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

type session struct {
	user  string
	to    string
	group string

	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (s *session) run(parent context.Context, addr string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.cancel = cancel

	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	s.conn = conn

	s.send(ctx, proto.InboundTypeRegister, proto.RegisterData{Identity: s.user})
	if s.group != "" {
		s.send(ctx, proto.InboundTypeJoinGroup, proto.GroupData{GroupName: s.group})
	}

	fmt.Printf("Connected to %s as %s\n", addr, s.user)
	fmt.Println("Type a message and press Enter. Commands: /to USER, /group NAME, /join NAME, /leave NAME,")
	fmt.Println("/add NAME USER, /remove NAME USER, /read ID, /users, /groups, /history. Ctrl+C to exit.")

	go func() {
		defer cancel()
		s.readLoop(ctx)
	}()

	s.writeLoop(ctx)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func (s *session) send(ctx context.Context, typ string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal %s: %v\n", typ, err)
		return
	}
	if err := wsjson.Write(ctx, s.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
		s.cancel()
	}
}

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (s *session) readLoop(ctx context.Context) {
	for {
		var f frame
		if err := wsjson.Read(ctx, s.conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			return
		}
		s.print(ctx, f)
	}
}

func (s *session) print(ctx context.Context, f frame) {
	if f.Type == proto.OutboundTypeError {
		if f.Error != nil {
			fmt.Printf("! %s: %s\n", f.Error.Code, f.Error.Msg)
		}
		return
	}

	switch f.Event {
	case "privateMessage", "groupMessage":
		var msg proto.Message
		if json.Unmarshal(f.Data, &msg) != nil {
			return
		}
		where := "@" + msg.To
		if msg.GroupName != "" {
			where = "#" + msg.GroupName
		}
		fmt.Printf("[%s] %s -> %s: %s (%s)\n", msg.ID, msg.From, where, msg.Text, msg.Status)
		if msg.From != s.user {
			s.send(ctx, proto.InboundTypeDelivered, proto.AckData{MessageID: msg.ID, From: msg.From})
		}
	case "messageDelivered", "messageRead":
		var r proto.EventReceipt
		if json.Unmarshal(f.Data, &r) != nil {
			return
		}
		if r.ChatType == "group" {
			fmt.Printf("[%s] %s by %s (delivered %d/%d, read %d/%d)\n",
				r.MessageID, r.Status, r.By, r.DeliveredTo, r.Total, r.ReadBy, r.Total)
			return
		}
		fmt.Printf("[%s] %s by %s\n", r.MessageID, r.Status, r.By)
	case "userJoinedGroup", "userLeftGroup", "userAddedToGroup", "userRemovedFromGroup", "removedFromGroup":
		var m proto.EventMembership
		if json.Unmarshal(f.Data, &m) != nil {
			return
		}
		fmt.Printf("#%s %s: %s (members: %s)\n", m.GroupName, f.Event, m.User, strings.Join(m.Members, ", "))
	case "userStatus":
		var st proto.EventUserStatus
		if json.Unmarshal(f.Data, &st) != nil {
			return
		}
		state := "offline"
		if st.Online {
			state = "online"
		}
		fmt.Printf("* %s is %s\n", st.User, state)
	default:
		fmt.Printf("event=%s data=%s\n", f.Event, string(f.Data))
	}
}

func (s *session) writeLoop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if strings.HasPrefix(text, "/") {
				s.command(ctx, strings.Fields(text))
				continue
			}
			s.say(ctx, text)
		}
	}
}

func (s *session) say(ctx context.Context, text string) {
	switch {
	case s.group != "":
		s.send(ctx, proto.InboundTypeGroupMessage, proto.GroupMessageData{GroupName: s.group, Text: text})
	case s.to != "":
		s.send(ctx, proto.InboundTypePrivateMessage, proto.PrivateMessageData{To: s.to, Text: text})
	default:
		fmt.Println("pick a recipient with /to USER or a group with /group NAME")
	}
}

func (s *session) command(ctx context.Context, args []string) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch args[0] {
	case "/to":
		s.to, s.group = arg(1), ""
	case "/group":
		s.group, s.to = arg(1), ""
	case "/join":
		s.send(ctx, proto.InboundTypeJoinGroup, proto.GroupData{GroupName: arg(1)})
	case "/leave":
		s.send(ctx, proto.InboundTypeLeaveGroup, proto.GroupData{GroupName: arg(1)})
	case "/add":
		s.send(ctx, proto.InboundTypeAddUserToGroup, proto.MemberData{GroupName: arg(1), Username: arg(2)})
	case "/remove":
		s.send(ctx, proto.InboundTypeRemoveFromGroup, proto.MemberData{GroupName: arg(1), Username: arg(2)})
	case "/read":
		s.send(ctx, proto.InboundTypeRead, proto.AckData{MessageID: arg(1)})
	case "/users":
		s.send(ctx, proto.InboundTypeGetUsers, struct{}{})
	case "/groups":
		s.send(ctx, proto.InboundTypeGetGroups, struct{}{})
	case "/history":
		if s.group != "" {
			s.send(ctx, proto.InboundTypeHistory, proto.HistoryData{GroupName: s.group})
		} else {
			s.send(ctx, proto.InboundTypeHistory, proto.HistoryData{With: s.to})
		}
	default:
		fmt.Printf("unknown command %s\n", args[0])
	}
}
