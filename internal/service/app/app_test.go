package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"roomchat/internal/model"
	"roomchat/internal/protocol/linkexchange"
	"roomchat/internal/protocol/roomkey"
	"roomchat/internal/repository/member"
	"roomchat/internal/service/keywrap"
	"roomchat/internal/service/server"
	"roomchat/internal/service/sessionstore"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeView struct {
	lines  chan string
	status chan string
}

func newFakeView() *fakeView {
	return &fakeView{lines: make(chan string, 64), status: make(chan string, 64)}
}

func (v *fakeView) Print(line string)  { v.lines <- line }
func (v *fakeView) Status(text string) { v.status <- text }

func (v *fakeView) next(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for view update")
		return ""
	}
}

func waitJoined(t *testing.T, a *App) {
	t.Helper()
	select {
	case <-a.Joined():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for join")
	}
}

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	w, err := keywrap.New("test master secret")
	require.NoError(t, err)
	s := server.NewHttpServer(server.Options{VerifyTimeout: time.Minute}, member.NewMemoryRepo(), server.NewMemoryHistory(256), w)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(srv *httptest.Server, opts Options) (*App, *fakeView) {
	opts.ServerURL = srv.URL
	keys := roomkey.NewManager(sessionstore.NewMemory())
	x := linkexchange.New(linkexchange.NewHTTPWrapper(srv.URL, 5*time.Second), "https://chat.example.com")
	a := NewApp(opts, keys, x)
	v := newFakeView()
	a.view = v
	return a, v
}

func TestChatOverSharedLink(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	srv := newRelay(t)

	alice, aliceView := newTestApp(srv, Options{Name: "alice", Room: "KittyRoom"})
	require.NoError(alice.Prepare(ctx))
	require.True(strings.HasPrefix(alice.Room(), "KittyRoom-"))
	require.True(model.HasRoomSuffix(alice.Room()))
	require.NotEmpty(alice.ShareLink())

	bob, bobView := newTestApp(srv, Options{Name: "bob", Link: alice.ShareLink()})
	require.NoError(bob.Prepare(ctx))
	require.Equal(alice.Room(), bob.Room())

	require.NoError(alice.Connect(ctx))
	go alice.Listen(ctx)
	waitJoined(t, alice)
	require.NoError(bob.Connect(ctx))
	go bob.Listen(ctx)
	waitJoined(t, bob)

	require.Contains(aliceView.next(t, aliceView.lines), "bob joined the room")

	require.NoError(alice.SendMessage(ctx, "hello"))
	line := bobView.next(t, bobView.lines)
	require.Contains(line, "alice:")
	require.Contains(line, "hello")

	line = aliceView.next(t, aliceView.lines)
	require.Contains(line, "You:")
	require.Contains(line, "hello")

	bob.Typing()
	require.Equal("bob is typing...", aliceView.next(t, aliceView.status))
	require.NoError(bob.SendMessage(ctx, "hi alice"))
	require.Equal("", aliceView.next(t, aliceView.status))
	require.Contains(aliceView.next(t, aliceView.lines), "hi alice")

	bob.Stop(ctx)
	require.Contains(aliceView.next(t, aliceView.lines), "bob left the room")
	require.False(bob.keys.HasKey())
	alice.Stop(ctx)
}

func TestForeignMessagesAreDropped(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	srv := newRelay(t)

	alice, _ := newTestApp(srv, Options{Name: "alice", Room: "KittyRoom-ab12"})
	require.NoError(alice.Prepare(ctx))
	require.Equal("KittyRoom-ab12", alice.Room())

	// same room name, different key
	eve, eveView := newTestApp(srv, Options{Name: "eve", Room: "KittyRoom-ab12"})
	require.NoError(eve.Prepare(ctx))

	require.NoError(eve.Connect(ctx))
	go eve.Listen(ctx)
	waitJoined(t, eve)
	require.NoError(alice.Connect(ctx))
	go alice.Listen(ctx)
	waitJoined(t, alice)

	require.Contains(eveView.next(t, eveView.lines), "alice joined the room")
	require.NoError(alice.SendMessage(ctx, "secret"))

	select {
	case line := <-eveView.lines:
		t.Fatalf("undecryptable message was displayed: %q", line)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPrepareFailures(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	srv := newRelay(t)

	bob, _ := newTestApp(srv, Options{Name: "bob", Link: "https://chat.example.com/?room=KittyRoom-ab12&token=not-a-real-token"})
	err := bob.Prepare(ctx)
	var lre *linkexchange.LinkResolutionError
	require.True(errors.As(err, &lre))
	require.False(bob.keys.HasKey())
	require.ErrorIs(bob.Connect(ctx), ErrNotJoined)

	nameless, _ := newTestApp(srv, Options{Room: "KittyRoom"})
	require.ErrorIs(nameless.Prepare(ctx), linkexchange.ErrEmptyName)

	// no wrapping endpoint: the session still starts without a link
	down := httptest.NewServer(http.NotFoundHandler())
	defer down.Close()
	keys := roomkey.NewManager(sessionstore.NewMemory())
	carol := NewApp(Options{ServerURL: srv.URL, Name: "carol", Room: "KittyRoom"},
		keys, linkexchange.New(linkexchange.NewHTTPWrapper(down.URL, time.Second), "https://chat.example.com"))
	require.NoError(carol.Prepare(ctx))
	require.Empty(carol.ShareLink())
	require.True(keys.HasKey())
	require.NoError(carol.Connect(ctx))
	carol.Stop(ctx)
}

func TestWsURL(t *testing.T) {
	require := require.New(t)

	u, err := wsURL("http://localhost:3001/")
	require.NoError(err)
	require.Equal("ws://localhost:3001/ws", u)

	u, err = wsURL("https://chat.example.com/relay")
	require.NoError(err)
	require.Equal("wss://chat.example.com/relay/ws", u)

	_, err = wsURL("ftp://example.com")
	require.Error(err)
}
