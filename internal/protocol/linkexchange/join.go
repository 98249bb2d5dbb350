package linkexchange

import (
	"context"
	"errors"
	"roomchat/internal/model"
	"strings"
	"sync"
)

// JoinState is where a party following a shared link stands.
type JoinState int

const (
	AwaitingToken JoinState = iota
	ResolvingKey
	KeyInstalled
	UsernamePrompt
	Joined
)

func (s JoinState) String() string {
	switch s {
	case AwaitingToken:
		return "awaiting-token"
	case ResolvingKey:
		return "resolving-key"
	case KeyInstalled:
		return "key-installed"
	case UsernamePrompt:
		return "username-prompt"
	case Joined:
		return "joined"
	}
	return "unknown"
}

var (
	ErrResolveInProgress = errors.New("linkexchange: key resolution already in progress")
	ErrEmptyName         = errors.New("linkexchange: display name cannot be empty")
)

type (
	KeyInstaller interface {
		InstallKey(ctx context.Context, k model.RoomKey) error
	}

	// Join drives AwaitingToken -> ResolvingKey -> KeyInstalled ->
	// UsernamePrompt -> Joined. The display name may be chosen before the
	// key arrives; Joined needs both.
	Join struct {
		exchange *Exchange
		keys     KeyInstaller

		mu        sync.Mutex
		state     JoinState
		room      string
		name      string
		installed bool
	}
)

func NewJoin(exchange *Exchange, keys KeyInstaller) *Join {
	return &Join{
		exchange: exchange,
		keys:     keys,
		state:    AwaitingToken,
	}
}

func (j *Join) State() JoinState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Join) Room() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.room
}

func (j *Join) Name() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.name
}

// CanEncrypt reports whether a key from the link has been installed.
func (j *Join) CanEncrypt() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.installed
}

// Follow parses link, resolves its token and installs the recovered key.
// On failure the state returns to AwaitingToken and whatever key was
// installed before stays active.
func (j *Join) Follow(ctx context.Context, link string) error {
	room, token, err := ParseShareableLink(link)
	if err != nil {
		return &LinkResolutionError{Err: err}
	}

	j.mu.Lock()
	if j.state == ResolvingKey {
		j.mu.Unlock()
		return ErrResolveInProgress
	}
	prev := j.state
	j.state = ResolvingKey
	j.mu.Unlock()

	key, err := j.exchange.ResolveSharedKey(ctx, token)
	if err == nil {
		err = j.keys.InstallKey(ctx, key)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err != nil {
		if !j.installed {
			prev = AwaitingToken
		}
		j.state = prev
		return err
	}
	j.room = room
	j.installed = true
	j.state = KeyInstalled
	j.advanceLocked()
	return nil
}

// PromptName marks that the UI is asking for a display name.
func (j *Join) PromptName() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == KeyInstalled {
		j.state = UsernamePrompt
	}
}

// SetName records the display name and joins if the key is already there.
func (j *Join) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.name = name
	j.advanceLocked()
	return nil
}

func (j *Join) advanceLocked() {
	if j.installed && j.name != "" && j.state != ResolvingKey {
		j.state = Joined
	}
}
