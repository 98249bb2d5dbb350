package roomkey

import (
	"context"
	"errors"
	"roomchat/internal/cryptographic/encryption"
	"roomchat/internal/model"
	redisSvc "roomchat/internal/service/redis"
	"roomchat/internal/service/sessionstore"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

var errBackend = errors.New("backend down")

func (brokenStore) Get(context.Context, string) (string, error) { return "", errBackend }
func (brokenStore) Set(context.Context, string, string) error   { return errBackend }
func (brokenStore) Delete(context.Context, string) error        { return errBackend }

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestGetOrCreateKeyIsIdempotent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	store := sessionstore.NewMemory()
	m := NewManager(store)

	k1, err := m.GetOrCreateKey(ctx)
	require.NoError(err)
	require.False(k1.IsZero())

	k2, err := m.GetOrCreateKey(ctx)
	require.NoError(err)
	require.Equal(k1, k2)

	stored, err := store.Get(ctx, DefaultSlot)
	require.NoError(err)
	require.Equal(k1.String(), stored)

	// a second manager over the same session storage sees the same key
	k3, err := NewManager(store).GetOrCreateKey(ctx)
	require.NoError(err)
	require.Equal(k1, k3)
}

func TestGetOrCreateKeyReplacesGarbage(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	store := sessionstore.NewMemory()
	require.NoError(store.Set(ctx, DefaultSlot, "garbage"))

	k, err := NewManager(store).GetOrCreateKey(ctx)
	require.NoError(err)

	stored, err := store.Get(ctx, DefaultSlot)
	require.NoError(err)
	require.Equal(k.String(), stored)
}

func TestInstallKeyInvalidatesCipher(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m := NewManager(sessionstore.NewMemory())
	_, err := m.GetOrCreateKey(ctx)
	require.NoError(err)

	before, err := m.AEAD(ctx)
	require.NoError(err)
	again, err := m.AEAD(ctx)
	require.NoError(err)
	require.True(before == again, "derived cipher is cached")

	sealed, err := encryption.Seal(before, []byte("hello"), nil)
	require.NoError(err)

	var other model.RoomKey
	other[0] = 1
	require.NoError(m.InstallKey(ctx, other))

	got, err := m.GetOrCreateKey(ctx)
	require.NoError(err)
	require.Equal(other, got)

	after, err := m.AEAD(ctx)
	require.NoError(err)
	require.False(before == after)

	_, err = encryption.Open(after, sealed, nil)
	require.ErrorIs(err, encryption.ErrAuthentication)
}

func TestDeriveCipherKey(t *testing.T) {
	require := require.New(t)

	var a, b model.RoomKey
	b[31] = 1
	require.Equal(DeriveCipherKey(a), DeriveCipherKey(a))
	require.NotEqual(DeriveCipherKey(a), DeriveCipherKey(b))
	dk := DeriveCipherKey(a)
	require.NotEqual(a[:], dk[:], "raw key is never used directly")
}

func TestFailures(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	_, err := NewManager(brokenStore{}).GetOrCreateKey(ctx)
	require.ErrorIs(err, ErrStorageUnavailable)
	require.ErrorIs(err, errBackend)

	require.ErrorIs(NewManager(brokenStore{}).InstallKey(ctx, model.RoomKey{}), ErrStorageUnavailable)

	_, err = NewManager(sessionstore.NewMemory(), WithRandom(failingReader{})).GetOrCreateKey(ctx)
	require.ErrorIs(err, ErrRandomUnavailable)

	_, err = NewManager(sessionstore.NewMemory(), WithRandom(failingReader{})).AEAD(ctx)
	require.ErrorIs(err, ErrRandomUnavailable)
}

func TestInstalledAEADNeverCreates(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	store := sessionstore.NewMemory()
	m := NewManager(store)
	_, err := m.InstalledAEAD(ctx)
	require.ErrorIs(err, ErrNoKey)
	require.False(m.HasKey())
	_, err = store.Get(ctx, DefaultSlot)
	require.ErrorIs(err, sessionstore.ErrNotFound)

	// a key persisted by an earlier manager of the same session is picked up
	var k model.RoomKey
	k[0] = 7
	require.NoError(store.Set(ctx, DefaultSlot, k.String()))
	aead, err := m.InstalledAEAD(ctx)
	require.NoError(err)
	require.NotNil(aead)
	got, err := m.GetOrCreateKey(ctx)
	require.NoError(err)
	require.Equal(k, got)

	_, err = NewManager(brokenStore{}).InstalledAEAD(ctx)
	require.ErrorIs(err, ErrStorageUnavailable)
}

func TestRedisSessionKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	svc := redisSvc.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { svc.Close() })

	first := NewManager(sessionstore.NewRedis(svc, "s1", time.Hour))
	k, err := first.GetOrCreateKey(ctx)
	require.NoError(err)

	// a restarted client of the same session finds the key again
	again, err := NewManager(sessionstore.NewRedis(svc, "s1", time.Hour)).GetOrCreateKey(ctx)
	require.NoError(err)
	require.Equal(k, again)

	other, err := NewManager(sessionstore.NewRedis(svc, "s2", time.Hour)).GetOrCreateKey(ctx)
	require.NoError(err)
	require.NotEqual(k, other)

	require.NoError(first.Clear(ctx))
	require.False(mr.Exists("session:s1:" + DefaultSlot))
}

func TestClear(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	store := sessionstore.NewMemory()
	m := NewManager(store, WithSlot("room"))
	k1, err := m.GetOrCreateKey(ctx)
	require.NoError(err)
	require.True(m.HasKey())

	require.NoError(m.Clear(ctx))
	require.False(m.HasKey())
	_, err = store.Get(ctx, "room")
	require.ErrorIs(err, sessionstore.ErrNotFound)

	k2, err := m.GetOrCreateKey(ctx)
	require.NoError(err)
	require.NotEqual(k1, k2)
}

func TestConcurrentInstall(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m := NewManager(sessionstore.NewMemory())
	keys := make([]model.RoomKey, 8)
	for i := range keys {
		keys[i][0] = byte(i + 1)
	}

	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(2)
		go func(k model.RoomKey) {
			defer wg.Done()
			_ = m.InstallKey(ctx, k)
		}(keys[i])
		go func() {
			defer wg.Done()
			_, _ = m.AEAD(ctx)
		}()
	}
	wg.Wait()

	// the cached cipher must belong to the final key
	final, err := m.GetOrCreateKey(ctx)
	require.NoError(err)
	aead, err := m.AEAD(ctx)
	require.NoError(err)

	dk := DeriveCipherKey(final)
	ref, err := encryption.NewAESGCM(dk[:])
	require.NoError(err)
	sealed, err := encryption.Seal(ref, []byte(strings.Repeat("x", 10)), nil)
	require.NoError(err)
	_, err = encryption.Open(aead, sealed, nil)
	require.NoError(err)
}
