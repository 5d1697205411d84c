package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/messages"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
	"github.com/verdant-game/verdant/pkg/workers"
)

const (
	// MaxChatContentLength bounds a single chat message.
	MaxChatContentLength = 500
)

// State is the lifecycle state of a session.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session drives one connection through connecting, joined, and
// disconnected. Inbound events for a connection are handled one at a
// time by the transport's read loop, so handlers never race each other;
// the mutex guards state reads from timers and other sessions.
type Session struct {
	ID      uuid.UUID
	manager *Manager
	conn    Conn

	joinTimer *time.Timer

	mu       sync.Mutex
	state    State
	playerID int64
	username string
	mapID    int64

	teardown sync.Once
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PlayerID returns the bound player identity, or 0 before join.
func (s *Session) PlayerID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// HandleMessage dispatches one inbound event.
func (s *Session) HandleMessage(ctx context.Context, msg *messages.Message) {
	switch msg.Type {
	case messages.MessageTypePlayerJoin:
		s.handleJoin(ctx, msg)
	case messages.MessageTypePlayerMove:
		s.handleMove(ctx, msg)
	case messages.MessageTypeChatSend:
		s.handleChat(ctx, msg)
	case messages.MessageTypeTileAction:
		s.handleTileAction(ctx, msg)
	default:
		log.Warn("Session %s sent unknown message type %s", s.ID, msg.Type)
	}
}

func (s *Session) handleJoin(ctx context.Context, msg *messages.Message) {
	var join messages.PlayerJoin
	if err := json.Unmarshal(msg.Payload, &join); err != nil {
		log.Warn("Failed to unmarshal join from session %s: %v", s.ID, err)
		return
	}

	claims, err := s.manager.tokens.VerifyToken(ctx, join.Token)
	if err != nil {
		log.Warn("Session %s join rejected: %v", s.ID, err)
		s.unicastJoinFailure("invalid token")
		return
	}
	if join.PlayerID != 0 && join.PlayerID != claims.PlayerID {
		log.Warn("Session %s join rejected: token is for player %d, not %d", s.ID, claims.PlayerID, join.PlayerID)
		s.unicastJoinFailure("token does not match player")
		return
	}

	// A token outlives its account; the store is the authority on
	// whether the player still exists.
	player, err := s.manager.repository.GetPlayer(ctx, claims.PlayerID)
	if err != nil {
		if repositories.IsNotFound(err) {
			log.Warn("Session %s join rejected: player %d no longer exists", s.ID, claims.PlayerID)
			s.unicastJoinFailure("player no longer exists")
			return
		}
		log.Error("Failed to load player %d for session %s: %v", claims.PlayerID, s.ID, err)
		s.unicastJoinFailure("failed to load player")
		return
	}

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateJoined
	s.playerID = player.ID
	s.username = player.Username
	s.mapID = join.MapID
	// Presence registration happens under the session lock so an
	// eviction teardown cannot slip between the state change and the
	// registry insert and leave an orphaned entry behind.
	entry, evicted := s.manager.registry.Join(s.ID, player.ID, player.Username, join.Position, join.MapID)
	s.mu.Unlock()

	if s.joinTimer != nil {
		s.joinTimer.Stop()
	}

	if evicted != nil {
		log.Info("Player %d joined from session %s, evicting session %s", player.ID, s.ID, evicted.ConnectionID)
		s.manager.broadcaster.BroadcastExcept(s.ID, mustMessage(messages.MessageTypePresenceRemoved, messages.PresenceRemoved{
			PlayerID: evicted.PlayerID,
		}))
		if stale, ok := s.manager.session(evicted.ConnectionID); ok {
			stale.Disconnect("session replaced by a newer connection")
		}
	} else {
		log.Info("Player %d (%s) joined from session %s", player.ID, player.Username, s.ID)
	}

	players := make([]messages.PresenceUpdate, 0, s.manager.registry.Count())
	for _, e := range s.manager.registry.All() {
		players = append(players, messages.PresenceUpdate{
			PlayerID: e.PlayerID,
			Username: e.Username,
			Position: e.Position,
			MapID:    e.MapID,
		})
	}
	s.manager.broadcaster.Unicast(s.ID, mustMessage(messages.MessageTypeJoinSuccess, messages.JoinSuccess{
		ConnectionID: s.ID.String(),
		Players:      players,
	}))

	s.manager.broadcaster.BroadcastAll(mustMessage(messages.MessageTypePresenceUpdate, messages.PresenceUpdate{
		PlayerID: entry.PlayerID,
		Username: entry.Username,
		Position: entry.Position,
		MapID:    entry.MapID,
	}))
}

func (s *Session) handleMove(_ context.Context, msg *messages.Message) {
	if !s.joined() {
		log.Debug("Dropping move from session %s in state %s", s.ID, s.State())
		return
	}

	var move messages.PlayerMove
	if err := json.Unmarshal(msg.Payload, &move); err != nil {
		log.Warn("Failed to unmarshal move from session %s: %v", s.ID, err)
		return
	}

	entry, err := s.manager.registry.UpdatePosition(s.ID, move.Position)
	if err != nil {
		// The session may have been evicted between dispatch and here.
		log.Trace("Dropping move from absent session %s", s.ID)
		return
	}

	s.manager.broadcaster.BroadcastExceptUnreliable(s.ID, mustMessage(messages.MessageTypePresenceUpdate, messages.PresenceUpdate{
		PlayerID: entry.PlayerID,
		Username: entry.Username,
		Position: entry.Position,
		MapID:    entry.MapID,
	}))
}

func (s *Session) handleChat(_ context.Context, msg *messages.Message) {
	if !s.joined() {
		log.Debug("Dropping chat from session %s in state %s", s.ID, s.State())
		return
	}

	var chat messages.ChatSend
	if err := json.Unmarshal(msg.Payload, &chat); err != nil {
		log.Warn("Failed to unmarshal chat from session %s: %v", s.ID, err)
		return
	}

	content := strings.TrimSpace(chat.Content)
	if content == "" || len(content) > MaxChatContentLength {
		s.manager.broadcaster.Unicast(s.ID, mustMessage(messages.MessageTypeServerError, messages.ServerError{
			Code:    messages.ErrorCodeValidation,
			Message: "chat content must be between 1 and 500 characters",
		}))
		return
	}

	entry, ok := s.manager.registry.Get(s.ID)
	if !ok {
		log.Trace("Dropping chat from absent session %s", s.ID)
		return
	}

	timestamp := time.Now().UnixMilli()
	s.manager.broadcaster.BroadcastAll(mustMessage(messages.MessageTypeChatBroadcast, messages.ChatBroadcast{
		PlayerID:  entry.PlayerID,
		Username:  entry.Username,
		Content:   content,
		Position:  entry.Position,
		MapID:     entry.MapID,
		Timestamp: timestamp,
	}))

	s.manager.saveChatMessageChan <- workers.SaveChatMessageRequest{
		Timestamp: timestamp,
		PlayerID:  entry.PlayerID,
		Content:   content,
	}
}

func (s *Session) handleTileAction(_ context.Context, msg *messages.Message) {
	if !s.joined() {
		log.Debug("Dropping tile action from session %s in state %s", s.ID, s.State())
		return
	}

	var action messages.TileAction
	if err := json.Unmarshal(msg.Payload, &action); err != nil {
		log.Warn("Failed to unmarshal tile action from session %s: %v", s.ID, err)
		return
	}

	result, err := s.manager.ledger.ApplyContribution(action.TileID, action.ActionID)
	if err != nil {
		log.Warn("Session %s tile action failed: %v", s.ID, err)
		s.manager.broadcaster.Unicast(s.ID, mustMessage(messages.MessageTypeServerError, messages.ServerError{
			Code:    messages.ErrorCodeNotFound,
			Message: err.Error(),
		}))
		return
	}

	s.manager.broadcaster.BroadcastAllUnreliable(mustMessage(messages.MessageTypeTileProgress, messages.TileProgress{
		TileID:   result.TileID,
		Progress: result.Progress,
	}))

	if result.Completed {
		log.Info("Tile %d completed to state %s by player %d", result.TileID, result.State, s.PlayerID())
		s.manager.broadcaster.BroadcastAll(mustMessage(messages.MessageTypeTileStateChanged, messages.TileStateChanged{
			TileID:   result.TileID,
			NewState: result.State,
		}))
	}

	actionName := fmt.Sprintf("action-%d", action.ActionID)
	if a, err := s.manager.catalog.Lookup(action.ActionID); err == nil {
		actionName = a.Name
	}
	outcome := "progress"
	if result.Completed {
		outcome = "completed:" + result.State
	}
	s.manager.logActionChan <- workers.LogActionRequest{
		Entry: models.ActionLogEntry{
			PlayerID:   s.PlayerID(),
			ActionType: actionName,
			TileID:     result.TileID,
			Result:     outcome,
			CreatedAt:  time.Now().UnixMilli(),
		},
	}
}

// expireJoinGrace ends a session that never joined. The state transition
// happens under the lock so a join racing the timer either wins cleanly
// or sees the session already disconnected.
func (s *Session) expireJoinGrace() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	log.Debug("Session %s did not join in time", s.ID)
	s.Disconnect("join timeout")
}

// Disconnect tears the session down. It is safe to call from any
// goroutine and any number of times; only the first call has effect.
func (s *Session) Disconnect(reason string) {
	s.teardown.Do(func() {
		if s.joinTimer != nil {
			s.joinTimer.Stop()
		}

		// State change and registry removal are atomic with respect to
		// a join on another goroutine; both paths take the session lock
		// before touching the registry.
		s.mu.Lock()
		s.state = StateDisconnected
		entry, err := s.manager.registry.Leave(s.ID)
		s.mu.Unlock()

		if err == nil {
			// An evicted session finds its registry entry already
			// replaced and must not announce the player's departure.
			s.manager.broadcaster.BroadcastExcept(s.ID, mustMessage(messages.MessageTypePresenceRemoved, messages.PresenceRemoved{
				PlayerID: entry.PlayerID,
			}))
			s.manager.savePlayerChan <- workers.SavePlayerPositionRequest{
				Timestamp: time.Now().UnixMilli(),
				PlayerID:  entry.PlayerID,
				X:         entry.Position.X,
				Y:         entry.Position.Y,
			}
		}

		s.manager.broadcaster.Unregister(s.ID)
		s.manager.removeSession(s.ID)
		if err := s.conn.Close(reason); err != nil {
			log.Trace("Failed to close connection for session %s: %v", s.ID, err)
		}
		log.Info("Session %s disconnected: %s", s.ID, reason)
	})
}

func (s *Session) joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateJoined
}

func (s *Session) unicastJoinFailure(reason string) {
	s.manager.broadcaster.Unicast(s.ID, mustMessage(messages.MessageTypeJoinFailure, messages.JoinFailure{
		Reason: reason,
	}))
}

func mustMessage(msgType string, payload interface{}) *messages.Message {
	msg, err := messages.NewMessage(msgType, payload)
	if err != nil {
		log.Error("Failed to build %s message: %v", msgType, err)
		return &messages.Message{Type: msgType}
	}
	return msg
}
