package app

import (
	"context"
	"errors"
	"fmt"
	"roomchat/internal/model"
	"roomchat/internal/protocol/envelope"
	"roomchat/internal/protocol/linkexchange"
	"roomchat/internal/protocol/roomkey"
	"roomchat/internal/utils/log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const typingIdle = 2 * time.Second

var ErrNotJoined = errors.New("app: not joined to a room")

type (
	Options struct {
		ServerURL string
		Name      string
		// Room is used when creating a room. A random suffix is added
		// unless it already has one.
		Room string
		// Link joins an existing room instead.
		Link string
	}

	// View is what the app draws on.
	View interface {
		Print(line string)
		Status(text string)
	}

	App struct {
		opts     Options
		keys     *roomkey.Manager
		cipher   *envelope.Cipher
		exchange *linkexchange.Exchange
		join     *linkexchange.Join
		view     View

		room      string
		shareLink string

		conn    *websocket.Conn
		writeMu sync.Mutex

		joined     chan struct{}
		joinedOnce sync.Once

		typingMu    sync.Mutex
		typingTimer *time.Timer
		typers      map[string]struct{}
	}
)

func NewApp(opts Options, keys *roomkey.Manager, exchange *linkexchange.Exchange) *App {
	return &App{
		opts:     opts,
		keys:     keys,
		cipher:   envelope.NewCipher(keys),
		exchange: exchange,
		join:     linkexchange.NewJoin(exchange, keys),
		joined:   make(chan struct{}),
		typers:   make(map[string]struct{}),
	}
}

// Joined is closed once the relay has accepted the join and replayed the
// room history.
func (c *App) Joined() <-chan struct{} {
	return c.joined
}

// Room is the room identifier in use after Prepare.
func (c *App) Room() string {
	return c.room
}

// ShareLink is the link other parties can follow, empty when the wrapping
// endpoint was unavailable.
func (c *App) ShareLink() string {
	return c.shareLink
}

// Prepare settles the room key: it follows Options.Link when given,
// otherwise it creates or reuses the session key and tries to build a
// share link. A failed link is not fatal; a failed key resolution is.
func (c *App) Prepare(ctx context.Context) error {
	if err := c.join.SetName(c.opts.Name); err != nil {
		return err
	}

	if c.opts.Link != "" {
		if err := c.join.Follow(ctx, c.opts.Link); err != nil {
			return err
		}
		c.room = c.join.Room()
		return nil
	}

	room := strings.TrimSpace(c.opts.Room)
	if !model.HasRoomSuffix(room) {
		var err error
		room, err = model.NewRoomIdentifier(room)
		if err != nil {
			return err
		}
	}
	c.room = room

	key, err := c.keys.GetOrCreateKey(ctx)
	if err != nil {
		return err
	}
	link, err := c.exchange.CreateShareableLink(ctx, room, key)
	if err != nil {
		log.Warn("link unavailable", zap.String("room", room), zap.Error(err))
		return nil
	}
	c.shareLink = link
	return nil
}

// Connect dials the relay and joins the prepared room.
func (c *App) Connect(ctx context.Context) error {
	if c.room == "" {
		return ErrNotJoined
	}
	conn, err := c.initWebsocket(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	return c.emit(model.EventJoin, model.JoinRequest{Room: c.room, User: c.opts.Name})
}

// Listen reads relay events until the connection closes.
func (c *App) Listen(ctx context.Context) {
	for {
		var ev model.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			log.Debug("web socket closed", zap.Error(err))
			return
		}
		if err := c.handleEvent(ctx, &ev); err != nil {
			log.Error("handle event failed", zap.String("event", string(ev.Kind)), zap.Error(err))
		}
	}
}

// SendMessage encrypts text and hands it to the relay. The line is drawn
// when the relay echoes it back.
func (c *App) SendMessage(ctx context.Context, text string) error {
	if c.conn == nil {
		return ErrNotJoined
	}
	if c.opts.Link != "" && !c.join.CanEncrypt() {
		return ErrNotJoined
	}
	env, err := c.cipher.Encrypt(ctx, text)
	if err != nil {
		return err
	}
	c.stopTyping()
	return c.emit(model.EventMessage, model.MessageRequest{Text: env})
}

// Typing tells the room we are typing and schedules stop_typing.
func (c *App) Typing() {
	if c.conn == nil {
		return
	}
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typingTimer != nil {
		c.typingTimer.Reset(typingIdle)
		return
	}
	if err := c.emit(model.EventTyping, model.TypingSignal{User: c.opts.Name}); err != nil {
		log.Debug("send typing failed", zap.Error(err))
		return
	}
	c.typingTimer = time.AfterFunc(typingIdle, c.stopTyping)
}

func (c *App) stopTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typingTimer == nil {
		return
	}
	c.typingTimer.Stop()
	c.typingTimer = nil
	if err := c.emit(model.EventStopTyping, model.TypingSignal{User: c.opts.Name}); err != nil {
		log.Debug("send stop_typing failed", zap.Error(err))
	}
}

// Stop leaves the room, closes the connection and ends the key session.
func (c *App) Stop(ctx context.Context) {
	if c.conn != nil {
		if err := c.emit(model.EventLeave, model.LeaveRequest{Room: c.room}); err != nil {
			log.Debug("send leave failed", zap.Error(err))
		}
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	}
	if err := c.keys.Clear(ctx); err != nil {
		log.Error("clear session key failed", zap.Error(err))
	}
}

func (c *App) handleEvent(ctx context.Context, ev *model.Event) error {
	switch ev.Kind {
	case model.EventMessage, model.EventMessageEcho:
		var m model.Message
		if err := ev.Decode(&m); err != nil {
			return err
		}
		c.clearTyper(m.User)
		return c.showMessage(ctx, m, ev.Kind == model.EventMessageEcho)
	case model.EventMessages:
		var ms model.Messages
		if err := ev.Decode(&ms); err != nil {
			return err
		}
		defer c.joinedOnce.Do(func() { close(c.joined) })
		for _, m := range ms.Messages {
			if err := c.showMessage(ctx, m, m.User == c.opts.Name); err != nil {
				return err
			}
		}
		return nil
	case model.EventServerMessage:
		var text string
		if err := ev.Decode(&text); err != nil {
			return err
		}
		c.print(fmt.Sprintf("[gray]* %s[-]", text))
		return nil
	case model.EventTyping, model.EventStopTyping:
		var sig model.TypingSignal
		if err := ev.Decode(&sig); err != nil {
			return err
		}
		c.typingMu.Lock()
		if ev.Kind == model.EventTyping {
			c.typers[sig.User] = struct{}{}
		} else {
			delete(c.typers, sig.User)
		}
		c.typingMu.Unlock()
		c.refreshStatus()
		return nil
	default:
		log.Debug("ignoring event", zap.String("event", string(ev.Kind)))
		return nil
	}
}

// showMessage decrypts and prints one message. Undecryptable messages are
// dropped, never shown as placeholders.
func (c *App) showMessage(ctx context.Context, m model.Message, own bool) error {
	text, err := c.cipher.Decrypt(ctx, m.Text)
	if envelope.IsDropped(err) {
		log.Warn("dropping message", zap.String("user", m.User), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	stamp := m.Date.Local().Format("15:04")
	if own {
		c.print(fmt.Sprintf("[gray]%s[-] [yellow]You:[-] %s", stamp, text))
	} else {
		c.print(fmt.Sprintf("[gray]%s[-] [green]%s:[-] %s", stamp, m.User, text))
	}
	return nil
}

func (c *App) clearTyper(user string) {
	c.typingMu.Lock()
	_, ok := c.typers[user]
	delete(c.typers, user)
	c.typingMu.Unlock()
	if ok {
		c.refreshStatus()
	}
}

func (c *App) refreshStatus() {
	c.typingMu.Lock()
	names := make([]string, 0, len(c.typers))
	for name := range c.typers {
		names = append(names, name)
	}
	c.typingMu.Unlock()

	switch len(names) {
	case 0:
		c.status("")
	case 1:
		c.status(names[0] + " is typing...")
	default:
		c.status(strings.Join(names, ", ") + " are typing...")
	}
}

func (c *App) emit(kind model.EventKind, data any) error {
	ev, err := model.NewEvent(kind, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

func (c *App) print(line string) {
	if c.view != nil {
		c.view.Print(line)
	}
}

func (c *App) status(text string) {
	if c.view != nil {
		c.view.Status(text)
	}
}
