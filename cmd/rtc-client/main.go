// rtc-client is a headless relay client: chat, presence and calls from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"wayfarer-backend/internal/client"
	"wayfarer-backend/internal/client/api"
	"wayfarer-backend/internal/client/call"
	"wayfarer-backend/internal/client/chat"
	"wayfarer-backend/internal/client/media"
	"wayfarer-backend/internal/client/rtc"
	"wayfarer-backend/internal/client/signaling"
	"wayfarer-backend/internal/domain"
	"wayfarer-backend/pkg/env"
	"wayfarer-backend/pkg/jwt"
	"wayfarer-backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	relayURL := flag.String("relay", env.GetString("WAYFARER_RELAY_URL", "ws://localhost:8080/v1/ws"), "relay websocket url")
	apiURL := flag.String("api", env.GetString("WAYFARER_API_URL", "http://localhost:8080"), "REST base url")
	token := flag.String("token", env.GetString("WAYFARER_TOKEN", ""), "access token")
	ice := flag.String("ice", strings.Join(rtc.DefaultConfig().ICEServers, ","), "comma separated ICE server urls")
	loopback := flag.Bool("loopback", env.GetBool("WAYFARER_LOOPBACK", false), "gather loopback candidates")
	flag.Parse()

	logger.InitDefault()
	defer logger.Sync()

	if err := run(*relayURL, *apiURL, *token, *ice, *loopback); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(relayURL, apiURL, token, ice string, loopback bool) error {
	if token == "" {
		return errors.New("a token is required (-token or WAYFARER_TOKEN)")
	}
	claims, err := jwt.UnverifiedClaims(token)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := media.NewSource()
	if err != nil {
		return fmt.Errorf("media: %w", err)
	}
	rtcCfg := rtc.DefaultConfig()
	rtcCfg.ICEServers = splitList(ice)
	rtcCfg.IncludeLoopback = loopback
	factory, err := rtc.NewFactory(rtcCfg, source.Populate)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := signaling.Dial(dialCtx, relayURL, token)
	cancel()
	if err != nil {
		return err
	}

	backend := api.NewClient(apiURL, token)
	ui := &console{userID: claims.UserID}
	session := client.NewSession(claims.UserID, conn, backend, source, factory.New, client.Options{
		CallEvents: call.Events{
			OnIncoming:        ui.incoming,
			OnStateChange:     ui.callState,
			OnMediaDowngraded: func(*call.Session) { ui.printf("camera unavailable, continuing with audio only") },
			OnRemoteTrack: func(s *call.Session, t call.RemoteTrack) {
				ui.printf("receiving %s from %s", t.Kind(), short(s.Peer()))
			},
		},
		ChatEvents: chat.Events{
			OnMessage: ui.message,
			OnTyping: func(peer uuid.UUID, typing bool) {
				if typing {
					ui.printf("%s is typing…", short(peer))
				}
			},
			OnPresence: func(online []uuid.UUID) { ui.printf("online: %d", len(online)) },
		},
	})
	ui.session = session
	defer session.Close()

	if n, err := session.Sync(ctx); err != nil {
		logger.Warn("Initial sync failed", zap.Error(err))
	} else if n > 0 {
		ui.printf("%d new messages while offline", n)
	}

	ui.printf("signed in as %s (%s). Type help for commands.", claims.Username, claims.UserID)

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
			return nil
		case <-session.Done():
			return fmt.Errorf("relay connection lost: %w", conn.Err())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := ui.exec(ctx, backend, line); quit {
				return nil
			}
		}
	}
}

type console struct {
	userID  uuid.UUID
	session *client.Session
}

func (c *console) printf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

func (c *console) exec(ctx context.Context, backend *api.Client, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "help":
		c.printf("who | chats | open PEER | history PEER | msg PEER TEXT | type PEER")
		c.printf("call PEER [video] | answer | decline | hangup | mute | unmute | video on|off | calls | quit")
	case "quit", "exit":
		return true
	case "who":
		var online []uuid.UUID
		if online, err = backend.Online(ctx); err == nil {
			for _, id := range online {
				c.printf("  %s", id)
			}
		}
	case "chats":
		for _, conv := range c.session.Chat.Conversations() {
			preview := ""
			if conv.LastMessage != nil {
				preview = conv.LastMessage.Preview
			}
			c.printf("  %s %-20s unread=%d online=%t  %s",
				conv.PeerID, conv.PeerDisplayName, conv.UnreadCount, conv.PeerOnline, preview)
		}
	case "open":
		var peer uuid.UUID
		if peer, err = peerArg(args); err == nil {
			if err = c.session.Chat.Open(ctx, peer); err == nil {
				c.transcript(peer)
			}
		}
	case "history":
		var peer uuid.UUID
		if peer, err = peerArg(args); err == nil {
			var more bool
			if more, err = c.session.Chat.LoadHistory(ctx, peer); err == nil {
				c.transcript(peer)
				if !more {
					c.printf("(start of conversation)")
				}
			}
		}
	case "msg":
		var peer uuid.UUID
		if peer, err = peerArg(args); err == nil {
			if len(args) < 2 {
				err = errors.New("usage: msg PEER TEXT")
				break
			}
			_, err = c.session.Chat.Send(ctx, peer, domain.Content{
				Type: domain.MessageText,
				Body: strings.Join(args[1:], " "),
			})
		}
	case "type":
		var peer uuid.UUID
		if peer, err = peerArg(args); err == nil {
			c.session.Chat.Typing(peer)
		}
	case "call":
		var peer uuid.UUID
		if peer, err = peerArg(args); err == nil {
			mediaType := domain.MediaAudio
			if len(args) > 1 && args[1] == "video" {
				mediaType = domain.MediaVideo
			}
			_, err = c.session.Calls.Call(ctx, peer, mediaType)
		}
	case "answer":
		err = c.withCall(func(s *call.Session) error { return s.Answer(ctx) })
	case "decline":
		err = c.withCall((*call.Session).Decline)
	case "hangup":
		if !c.session.Calls.Hangup() {
			err = errors.New("no call in progress")
		}
	case "mute", "unmute":
		err = c.withCall(func(s *call.Session) error { return s.SetMuted(cmd == "mute") })
	case "video":
		err = c.withCall(func(s *call.Session) error {
			return s.SetVideoEnabled(len(args) > 0 && args[0] == "on")
		})
	case "calls":
		var calls []*domain.CallRecord
		if calls, err = backend.CallHistory(ctx, 20, 0); err == nil {
			for _, rec := range calls {
				c.printf("  %s %s→%s %s %s %ds", rec.StartedAt.Local().Format(time.DateTime),
					short(rec.CallerID), short(rec.CalleeID), rec.MediaType, rec.Status, rec.Duration)
			}
		}
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		c.printf("error: %v", err)
	}
	return false
}

func (c *console) withCall(fn func(*call.Session) error) error {
	s := c.session.Calls.Current()
	if s == nil {
		return errors.New("no call in progress")
	}
	return fn(s)
}

func (c *console) transcript(peer uuid.UUID) {
	for _, m := range c.session.Chat.Transcript(peer) {
		who := short(m.SenderID)
		if m.SenderID == c.userID {
			who = "me"
		}
		c.printf("  [%s] %s: %s", m.CreatedAt.Local().Format(time.TimeOnly), who, m.Preview())
	}
}

func (c *console) message(m *domain.Message) {
	if m.SenderID == c.userID {
		return
	}
	c.printf("%s: %s", short(m.SenderID), m.Preview())
}

func (c *console) incoming(s *call.Session) {
	c.printf("incoming %s call from %s (answer / decline)", s.Media(), s.Peer())
}

func (c *console) callState(s *call.Session, st call.State) {
	switch st := st.(type) {
	case call.Dialing:
		c.printf("calling %s…", short(st.Peer))
	case call.Connecting:
		c.printf("connecting…")
	case call.Active:
		c.printf("call active (%s)", st.Media)
	case call.Ended:
		if st.Err != nil {
			c.printf("call ended: %s (%v)", st.Reason, st.Err)
		} else {
			c.printf("call ended: %s after %s", st.Reason, st.Duration().Round(time.Second))
		}
	}
}

func peerArg(args []string) (uuid.UUID, error) {
	if len(args) == 0 {
		return uuid.Nil, errors.New("missing peer id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid peer id %q", args[0])
	}
	return id, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func short(id uuid.UUID) string {
	return id.String()[:8]
}
