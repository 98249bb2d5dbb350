package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"roomchat/internal/model"
	"roomchat/internal/repository/member"
	"roomchat/internal/service/keywrap"
	"roomchat/internal/utils/log"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	nonceSize            = 32
	writeTimeout         = 10 * time.Second
	defaultVerifyTimeout = 5 * time.Minute
)

type (
	Options struct {
		Addr          string
		VerifyTimeout time.Duration
	}

	HttpServer struct {
		opts     Options
		members  member.Repo
		history  HistoryStore
		wrapper  *keywrap.Wrapper
		upgrader websocket.Upgrader

		mu    sync.RWMutex
		rooms map[string]map[string]*client
	}

	client struct {
		id   string
		conn *websocket.Conn

		writeMu sync.Mutex

		nonce    []byte
		issued   time.Time
		verified bool
	}
)

func NewHttpServer(opts Options, members member.Repo, history HistoryStore, wrapper *keywrap.Wrapper) *HttpServer {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaultVerifyTimeout
	}
	return &HttpServer{
		opts:    opts,
		members: members,
		history: history,
		wrapper: wrapper,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		rooms: make(map[string]map[string]*client),
	}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)
	r.HandleFunc("/ready", plainText("Ready")).Methods(http.MethodGet)
	r.HandleFunc("/live", plainText("Live")).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(permissiveCORS)
	api.HandleFunc("/encrypt-key", s.wrapper.HandleEncryptKey()).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/decrypt-key", s.wrapper.HandleDecryptKey()).Methods(http.MethodGet, http.MethodOptions)
	return r
}

// Run serves until ctx is cancelled.
func (s *HttpServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("upgrade failed", zap.Error(err))
			return
		}

		c, err := newClient(conn)
		if err != nil {
			log.Error("init client failed", zap.Error(err))
			conn.Close()
			return
		}

		if err := c.send(model.EventNonce, base64.StdEncoding.EncodeToString(c.nonce)); err != nil {
			log.Debug("send nonce failed", zap.Error(err))
			conn.Close()
			return
		}
		log.Debug("socket connected", zap.String("id", c.id))

		s.processWSMessage(c)
	}
}

func newClient(conn *websocket.Conn) (*client, error) {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &client{
		id:     hex.EncodeToString(id),
		conn:   conn,
		nonce:  nonce,
		issued: time.Now(),
	}, nil
}

// processWSMessage handles one connection's frames in order, which keeps a
// sender's messages in send order for every receiver.
func (s *HttpServer) processWSMessage(c *client) {
	ctx := context.Background()
	defer s.disconnect(ctx, c)

	// an unverified socket is dropped once its nonce expires
	if err := c.conn.SetReadDeadline(c.issued.Add(s.opts.VerifyTimeout)); err != nil {
		log.Debug("set verify deadline failed", zap.String("id", c.id), zap.Error(err))
		return
	}

	for {
		var ev model.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			log.Debug("web socket closed", zap.String("id", c.id), zap.Error(err))
			return
		}

		if ev.Kind == model.EventVerify {
			if !s.verify(c, &ev) {
				log.Debug("nonce verification failed", zap.String("id", c.id))
				return
			}
			if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
				return
			}
			continue
		}
		if !c.verified {
			log.Debug("dropping event before verification", zap.String("id", c.id), zap.String("event", string(ev.Kind)))
			continue
		}

		if err := s.dispatch(ctx, c, &ev); err != nil {
			log.Error("handle event failed", zap.String("id", c.id), zap.String("event", string(ev.Kind)), zap.Error(err))
		}
	}
}

// verify accepts exactly one correct answer to the nonce. A repeated
// verify is treated as a failure.
func (s *HttpServer) verify(c *client, ev *model.Event) bool {
	if c.verified {
		return false
	}
	var encoded string
	if err := ev.Decode(&encoded); err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	if time.Since(c.issued) > s.opts.VerifyTimeout {
		return false
	}
	if subtle.ConstantTimeCompare(got, c.nonce) != 1 {
		return false
	}
	c.verified = true
	c.nonce = nil
	return true
}

func (s *HttpServer) dispatch(ctx context.Context, c *client, ev *model.Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown event %q", ev.Kind)
	}
	switch ev.Kind {
	case model.EventJoin:
		var req model.JoinRequest
		if err := ev.Decode(&req); err != nil {
			return err
		}
		return s.handleJoin(ctx, c, req)
	case model.EventLeave:
		var req model.LeaveRequest
		if err := ev.Decode(&req); err != nil {
			return err
		}
		return s.handleLeave(ctx, c)
	case model.EventMessage:
		var req model.MessageRequest
		if err := ev.Decode(&req); err != nil {
			return err
		}
		return s.handleMessage(ctx, c, req)
	case model.EventTyping, model.EventStopTyping:
		return s.handleTyping(ctx, c, ev.Kind)
	default:
		// server-to-client events
		return fmt.Errorf("unexpected event %q", ev.Kind)
	}
}

func (s *HttpServer) handleJoin(ctx context.Context, c *client, req model.JoinRequest) error {
	if req.Room == "" || req.User == "" {
		return errors.New("join needs room and user")
	}

	prev, err := s.members.Get(ctx, c.id)
	if err != nil {
		return err
	}
	if prev != nil {
		s.leaveRoom(c, prev.Room)
	}

	m := &model.Member{ID: c.id, Name: req.User, Room: req.Room}
	if err := s.members.Upsert(ctx, m); err != nil {
		return err
	}
	s.joinRoom(c, req.Room)

	history, err := s.history.List(ctx, req.Room)
	if err != nil {
		log.Error("load history failed", zap.String("room", req.Room), zap.Error(err))
		history = nil
	}
	if history == nil {
		history = []model.Message{}
	}
	if err := c.send(model.EventMessages, model.Messages{Messages: history}); err != nil {
		return err
	}

	s.broadcast(req.Room, c.id, model.EventServerMessage, fmt.Sprintf("%s joined the room", m.Name))
	return nil
}

func (s *HttpServer) handleLeave(ctx context.Context, c *client) error {
	m, err := s.members.Get(ctx, c.id)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}

	s.broadcast(m.Room, c.id, model.EventServerMessage, fmt.Sprintf("%s left the room", m.Name))
	s.leaveRoom(c, m.Room)
	if err := s.members.Remove(ctx, c.id); err != nil {
		return err
	}
	return s.history.RemoveUser(ctx, m.Room, m.Name)
}

func (s *HttpServer) handleMessage(ctx context.Context, c *client, req model.MessageRequest) error {
	m, err := s.members.Get(ctx, c.id)
	if err != nil {
		return err
	}
	if m == nil {
		log.Warn("message from socket outside any room", zap.String("id", c.id))
		return nil
	}

	msg := model.Message{
		User: m.Name,
		Text: req.Text,
		Date: time.Now().UTC(),
	}
	if err := s.history.Append(ctx, m.Room, msg); err != nil {
		log.Error("store message failed", zap.String("room", m.Room), zap.Error(err))
	}

	s.broadcast(m.Room, c.id, model.EventMessage, msg)
	if err := c.send(model.EventMessageEcho, msg); err != nil {
		log.Debug("echo message failed", zap.String("id", c.id), zap.Error(err))
	}
	return nil
}

func (s *HttpServer) handleTyping(ctx context.Context, c *client, kind model.EventKind) error {
	m, err := s.members.Get(ctx, c.id)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	s.broadcast(m.Room, c.id, kind, model.TypingSignal{User: m.Name})
	return nil
}

func (s *HttpServer) disconnect(ctx context.Context, c *client) {
	defer c.conn.Close()

	m, err := s.members.Get(ctx, c.id)
	if err != nil {
		log.Error("lookup member failed", zap.String("id", c.id), zap.Error(err))
		return
	}
	if m == nil {
		return
	}
	s.leaveRoom(c, m.Room)
	if err := s.members.Remove(ctx, c.id); err != nil {
		log.Error("remove member failed", zap.String("id", c.id), zap.Error(err))
	}
}

func (s *HttpServer) joinRoom(c *client, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients, ok := s.rooms[room]
	if !ok {
		clients = make(map[string]*client)
		s.rooms[room] = clients
	}
	clients[c.id] = c
}

func (s *HttpServer) leaveRoom(c *client, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := s.rooms[room]
	delete(clients, c.id)
	if len(clients) == 0 {
		delete(s.rooms, room)
	}
}

// broadcast sends to every client in room except the one with id except.
func (s *HttpServer) broadcast(room, except string, kind model.EventKind, data any) {
	s.mu.RLock()
	targets := make([]*client, 0, len(s.rooms[room]))
	for id, c := range s.rooms[room] {
		if id != except {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(kind, data); err != nil {
			log.Debug("broadcast failed", zap.String("id", c.id), zap.String("event", string(kind)), zap.Error(err))
		}
	}
}

func (c *client) send(kind model.EventKind, data any) error {
	ev, err := model.NewEvent(kind, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(ev)
}

func plainText(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

func permissiveCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
