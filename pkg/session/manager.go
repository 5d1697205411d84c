package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verdant-game/verdant/pkg/auth"
	"github.com/verdant-game/verdant/pkg/broadcast"
	"github.com/verdant-game/verdant/pkg/catalog"
	"github.com/verdant-game/verdant/pkg/ledger"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/messages"
	"github.com/verdant-game/verdant/pkg/presence"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/workers"
)

const (
	// DefaultJoinGracePeriod bounds how long a connection may stay in
	// the connecting state without sending a join.
	DefaultJoinGracePeriod = 10 * time.Second
)

// Conn is the transport handle a session drives. The write side doubles
// as the session's broadcast sink.
type Conn interface {
	WriteMessage(ctx context.Context, msg *messages.Message) error
	Close(reason string) error
}

// Manager owns every live session and the collaborators their events
// mutate.
type Manager struct {
	registry            *presence.Registry
	ledger              *ledger.Ledger
	broadcaster         *broadcast.Broadcaster
	catalog             *catalog.Catalog
	tokens              auth.TokenService
	repository          repositories.Repository
	savePlayerChan      chan<- workers.SavePlayerPositionRequest
	saveChatMessageChan chan<- workers.SaveChatMessageRequest
	logActionChan       chan<- workers.LogActionRequest
	joinGracePeriod     time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManagerOptions contains options for creating a new Manager.
type NewManagerOptions struct {
	Registry            *presence.Registry
	Ledger              *ledger.Ledger
	Broadcaster         *broadcast.Broadcaster
	Catalog             *catalog.Catalog
	Tokens              auth.TokenService
	Repository          repositories.Repository
	SavePlayerChan      chan<- workers.SavePlayerPositionRequest
	SaveChatMessageChan chan<- workers.SaveChatMessageRequest
	LogActionChan       chan<- workers.LogActionRequest
	JoinGracePeriod     time.Duration
}

func NewManager(opts NewManagerOptions) *Manager {
	joinGracePeriod := opts.JoinGracePeriod
	if joinGracePeriod <= 0 {
		joinGracePeriod = DefaultJoinGracePeriod
	}
	return &Manager{
		registry:            opts.Registry,
		ledger:              opts.Ledger,
		broadcaster:         opts.Broadcaster,
		catalog:             opts.Catalog,
		tokens:              opts.Tokens,
		repository:          opts.Repository,
		savePlayerChan:      opts.SavePlayerChan,
		saveChatMessageChan: opts.SaveChatMessageChan,
		logActionChan:       opts.LogActionChan,
		joinGracePeriod:     joinGracePeriod,
		sessions:            make(map[uuid.UUID]*Session),
	}
}

// StartSession binds a new connection to a session in the connecting
// state and registers its outbound sink. The session disconnects itself
// if no join arrives within the grace period.
func (m *Manager) StartSession(ctx context.Context, conn Conn) *Session {
	s := &Session{
		ID:      uuid.New(),
		manager: m,
		conn:    conn,
		state:   StateConnecting,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.broadcaster.Register(ctx, s.ID, conn)

	s.joinTimer = time.AfterFunc(m.joinGracePeriod, s.expireJoinGrace)

	log.Debug("Session %s connecting", s.ID)
	return s
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) session(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) removeSession(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
