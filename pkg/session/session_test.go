package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant-game/verdant/pkg/auth"
	"github.com/verdant-game/verdant/pkg/broadcast"
	"github.com/verdant-game/verdant/pkg/catalog"
	"github.com/verdant-game/verdant/pkg/ledger"
	"github.com/verdant-game/verdant/pkg/messages"
	"github.com/verdant-game/verdant/pkg/presence"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
	"github.com/verdant-game/verdant/pkg/workers"
)

type stubRepository struct {
	repositories.Repository
	tiles   []*models.Tile
	players map[int64]*models.Player
}

func (s *stubRepository) ListTiles(ctx context.Context) ([]*models.Tile, error) {
	return s.tiles, nil
}

func (s *stubRepository) GetPlayer(ctx context.Context, playerID int64) (*models.Player, error) {
	player, ok := s.players[playerID]
	if !ok {
		return nil, &repositories.ErrNotFound{}
	}
	return player, nil
}

type fakeConn struct {
	ch chan *messages.Message

	mu          sync.Mutex
	closed      bool
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{ch: make(chan *messages.Message, 64)}
}

func (c *fakeConn) WriteMessage(_ context.Context, msg *messages.Message) error {
	c.ch <- msg
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) receive(t *testing.T) *messages.Message {
	t.Helper()
	select {
	case msg := <-c.ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (c *fakeConn) receiveType(t *testing.T, msgType string) *messages.Message {
	t.Helper()
	msg := c.receive(t)
	require.Equal(t, msgType, msg.Type)
	return msg
}

func (c *fakeConn) assertNothing(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.ch:
		t.Fatalf("unexpected message %s", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

type testEnv struct {
	manager             *Manager
	tokens              auth.TokenService
	saveTileChan        chan workers.SaveTileRequest
	savePlayerChan      chan workers.SavePlayerPositionRequest
	saveChatMessageChan chan workers.SaveChatMessageRequest
	logActionChan       chan workers.LogActionRequest
}

func newTestEnv(t *testing.T, tiles []*models.Tile) *testEnv {
	t.Helper()

	actionCatalog := catalog.New(
		catalog.Action{ID: 1, Name: "Demolish factory", TargetState: "ruined", ProgressPerClick: 50},
	)
	repository := &stubRepository{
		tiles: tiles,
		players: map[int64]*models.Player{
			1: {ID: 1, Username: "mira"},
			2: {ID: 2, Username: "jun"},
		},
	}
	saveTileChan := make(chan workers.SaveTileRequest, 64)
	tileLedger := ledger.NewLedger(ledger.NewLedgerOptions{
		Catalog:      actionCatalog,
		Repository:   repository,
		SaveTileChan: saveTileChan,
	})
	require.NoError(t, tileLedger.LoadAll(context.Background()))

	tokens := auth.NewJWTService("test-secret", "verdant", time.Hour)
	savePlayerChan := make(chan workers.SavePlayerPositionRequest, 64)
	saveChatMessageChan := make(chan workers.SaveChatMessageRequest, 64)
	logActionChan := make(chan workers.LogActionRequest, 64)

	manager := NewManager(NewManagerOptions{
		Registry:            presence.NewRegistry(),
		Ledger:              tileLedger,
		Broadcaster:         broadcast.NewBroadcaster(),
		Catalog:             actionCatalog,
		Tokens:              tokens,
		Repository:          repository,
		SavePlayerChan:      savePlayerChan,
		SaveChatMessageChan: saveChatMessageChan,
		LogActionChan:       logActionChan,
		JoinGracePeriod:     time.Minute,
	})

	return &testEnv{
		manager:             manager,
		tokens:              tokens,
		saveTileChan:        saveTileChan,
		savePlayerChan:      savePlayerChan,
		saveChatMessageChan: saveChatMessageChan,
		logActionChan:       logActionChan,
	}
}

func (e *testEnv) message(t *testing.T, msgType string, payload interface{}) *messages.Message {
	t.Helper()
	msg, err := messages.NewMessage(msgType, payload)
	require.NoError(t, err)
	return msg
}

func (e *testEnv) joinMessage(t *testing.T, playerID int64, username string, position messages.Position) *messages.Message {
	t.Helper()
	token, err := e.tokens.Generate(playerID, username)
	require.NoError(t, err)
	return e.message(t, messages.MessageTypePlayerJoin, messages.PlayerJoin{
		Token:    token,
		Position: position,
		MapID:    1,
	})
}

// join starts a session, joins it, and drains the join-success and the
// echoed presence-update.
func (e *testEnv) join(t *testing.T, conn *fakeConn, playerID int64, username string) *Session {
	t.Helper()
	sess := e.manager.StartSession(context.Background(), conn)
	sess.HandleMessage(context.Background(), e.joinMessage(t, playerID, username, messages.Position{}))
	conn.receiveType(t, messages.MessageTypeJoinSuccess)
	conn.receiveType(t, messages.MessageTypePresenceUpdate)
	return sess
}

func TestSession_Join(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := newFakeConn()

	sess := env.manager.StartSession(context.Background(), conn)
	assert.Equal(t, StateConnecting, sess.State())

	sess.HandleMessage(context.Background(), env.joinMessage(t, 1, "mira", messages.Position{X: 2, Y: 3}))
	assert.Equal(t, StateJoined, sess.State())
	assert.Equal(t, int64(1), sess.PlayerID())

	success := conn.receiveType(t, messages.MessageTypeJoinSuccess)
	var joinSuccess messages.JoinSuccess
	require.NoError(t, json.Unmarshal(success.Payload, &joinSuccess))
	assert.Equal(t, sess.ID.String(), joinSuccess.ConnectionID)
	require.Len(t, joinSuccess.Players, 1)
	assert.Equal(t, int64(1), joinSuccess.Players[0].PlayerID)

	echo := conn.receiveType(t, messages.MessageTypePresenceUpdate)
	var update messages.PresenceUpdate
	require.NoError(t, json.Unmarshal(echo.Payload, &update))
	assert.Equal(t, "mira", update.Username)
	assert.Equal(t, messages.Position{X: 2, Y: 3}, update.Position)
}

func TestSession_Join_InvalidToken(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := newFakeConn()

	sess := env.manager.StartSession(context.Background(), conn)
	sess.HandleMessage(context.Background(), env.message(t, messages.MessageTypePlayerJoin, messages.PlayerJoin{
		Token: "not-a-token",
	}))

	conn.receiveType(t, messages.MessageTypeJoinFailure)
	assert.Equal(t, StateConnecting, sess.State())
	assert.Equal(t, 0, env.manager.registry.Count())
}

func TestSession_Join_TokenPlayerMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := newFakeConn()

	token, err := env.tokens.Generate(1, "mira")
	require.NoError(t, err)

	sess := env.manager.StartSession(context.Background(), conn)
	sess.HandleMessage(context.Background(), env.message(t, messages.MessageTypePlayerJoin, messages.PlayerJoin{
		Token:    token,
		PlayerID: 2,
	}))

	conn.receiveType(t, messages.MessageTypeJoinFailure)
	assert.Equal(t, StateConnecting, sess.State())
}

func TestSession_Join_DeletedPlayer(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := newFakeConn()

	// Token for an account that no longer exists in the store.
	sess := env.manager.StartSession(context.Background(), conn)
	sess.HandleMessage(context.Background(), env.joinMessage(t, 9, "ghost", messages.Position{}))

	failure := conn.receiveType(t, messages.MessageTypeJoinFailure)
	var joinFailure messages.JoinFailure
	require.NoError(t, json.Unmarshal(failure.Payload, &joinFailure))
	assert.Equal(t, "player no longer exists", joinFailure.Reason)
	assert.Equal(t, StateConnecting, sess.State())
	assert.Equal(t, 0, env.manager.registry.Count())
}

func TestSession_JoinGraceTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.manager.joinGracePeriod = 20 * time.Millisecond
	conn := newFakeConn()

	env.manager.StartSession(context.Background(), conn)

	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.manager.SessionCount())
}

func TestSession_MoveBeforeJoinIsDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	observerConn := newFakeConn()
	env.join(t, observerConn, 1, "mira")

	conn := newFakeConn()
	sess := env.manager.StartSession(context.Background(), conn)
	sess.HandleMessage(context.Background(), env.message(t, messages.MessageTypePlayerMove, messages.PlayerMove{
		Position: messages.Position{X: 9},
	}))

	observerConn.assertNothing(t)
	conn.assertNothing(t)
}

func TestSession_Move(t *testing.T) {
	env := newTestEnv(t, nil)
	moverConn := newFakeConn()
	observerConn := newFakeConn()
	mover := env.join(t, moverConn, 1, "mira")
	env.join(t, observerConn, 2, "jun")
	moverConn.receiveType(t, messages.MessageTypePresenceUpdate) // jun joining

	mover.HandleMessage(context.Background(), env.message(t, messages.MessageTypePlayerMove, messages.PlayerMove{
		Position: messages.Position{X: 7, Y: 8},
	}))

	moved := observerConn.receiveType(t, messages.MessageTypePresenceUpdate)
	var update messages.PresenceUpdate
	require.NoError(t, json.Unmarshal(moved.Payload, &update))
	assert.Equal(t, int64(1), update.PlayerID)
	assert.Equal(t, messages.Position{X: 7, Y: 8}, update.Position)

	// Movement is not echoed back to the mover.
	moverConn.assertNothing(t)
}

func TestSession_Chat(t *testing.T) {
	env := newTestEnv(t, nil)
	senderConn := newFakeConn()
	observerConn := newFakeConn()
	sender := env.join(t, senderConn, 1, "mira")
	env.join(t, observerConn, 2, "jun")
	senderConn.receiveType(t, messages.MessageTypePresenceUpdate)

	sender.HandleMessage(context.Background(), env.message(t, messages.MessageTypeChatSend, messages.ChatSend{
		Content: "hello world",
	}))

	for _, conn := range []*fakeConn{senderConn, observerConn} {
		msg := conn.receiveType(t, messages.MessageTypeChatBroadcast)
		var chat messages.ChatBroadcast
		require.NoError(t, json.Unmarshal(msg.Payload, &chat))
		assert.Equal(t, int64(1), chat.PlayerID)
		assert.Equal(t, "mira", chat.Username)
		assert.Equal(t, "hello world", chat.Content)
	}

	saved := <-env.saveChatMessageChan
	assert.Equal(t, int64(1), saved.PlayerID)
	assert.Equal(t, "hello world", saved.Content)
}

func TestSession_Chat_EmptyContentRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	senderConn := newFakeConn()
	sender := env.join(t, senderConn, 1, "mira")

	sender.HandleMessage(context.Background(), env.message(t, messages.MessageTypeChatSend, messages.ChatSend{
		Content: "   ",
	}))

	msg := senderConn.receiveType(t, messages.MessageTypeServerError)
	var serverError messages.ServerError
	require.NoError(t, json.Unmarshal(msg.Payload, &serverError))
	assert.Equal(t, messages.ErrorCodeValidation, serverError.Code)
	assert.Empty(t, env.saveChatMessageChan)
}

func TestSession_TileAction(t *testing.T) {
	env := newTestEnv(t, []*models.Tile{
		{ID: 10, MapID: 1, State: "polluted", Blocked: true},
	})
	actorConn := newFakeConn()
	observerConn := newFakeConn()
	actor := env.join(t, actorConn, 1, "mira")
	env.join(t, observerConn, 2, "jun")
	actorConn.receiveType(t, messages.MessageTypePresenceUpdate)

	tileAction := env.message(t, messages.MessageTypeTileAction, messages.TileAction{TileID: 10, ActionID: 1})

	actor.HandleMessage(context.Background(), tileAction)
	for _, conn := range []*fakeConn{actorConn, observerConn} {
		msg := conn.receiveType(t, messages.MessageTypeTileProgress)
		var progress messages.TileProgress
		require.NoError(t, json.Unmarshal(msg.Payload, &progress))
		assert.Equal(t, int64(10), progress.TileID)
		assert.Equal(t, float64(50), progress.Progress)
	}
	logged := <-env.logActionChan
	assert.Equal(t, int64(1), logged.Entry.PlayerID)
	assert.Equal(t, "Demolish factory", logged.Entry.ActionType)
	assert.Equal(t, "progress", logged.Entry.Result)

	// The second contribution completes the tile.
	actor.HandleMessage(context.Background(), tileAction)
	for _, conn := range []*fakeConn{actorConn, observerConn} {
		conn.receiveType(t, messages.MessageTypeTileProgress)
		msg := conn.receiveType(t, messages.MessageTypeTileStateChanged)
		var changed messages.TileStateChanged
		require.NoError(t, json.Unmarshal(msg.Payload, &changed))
		assert.Equal(t, int64(10), changed.TileID)
		assert.Equal(t, "ruined", changed.NewState)
	}
	logged = <-env.logActionChan
	assert.Equal(t, "completed:ruined", logged.Entry.Result)

	saved := <-env.saveTileChan
	assert.Equal(t, "ruined", saved.Tile.State)
	assert.False(t, saved.Tile.Blocked)
}

func TestSession_TileAction_UnknownTile(t *testing.T) {
	env := newTestEnv(t, nil)
	actorConn := newFakeConn()
	actor := env.join(t, actorConn, 1, "mira")

	actor.HandleMessage(context.Background(), env.message(t, messages.MessageTypeTileAction, messages.TileAction{
		TileID:   99,
		ActionID: 1,
	}))

	msg := actorConn.receiveType(t, messages.MessageTypeServerError)
	var serverError messages.ServerError
	require.NoError(t, json.Unmarshal(msg.Payload, &serverError))
	assert.Equal(t, messages.ErrorCodeNotFound, serverError.Code)
}

func TestSession_Disconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := newFakeConn()
	observerConn := newFakeConn()
	sess := env.join(t, conn, 1, "mira")
	env.join(t, observerConn, 2, "jun")
	conn.receiveType(t, messages.MessageTypePresenceUpdate)

	sess.Disconnect("connection closed")
	assert.Equal(t, StateDisconnected, sess.State())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 1, env.manager.registry.Count())
	assert.Equal(t, 1, env.manager.SessionCount())

	removed := observerConn.receiveType(t, messages.MessageTypePresenceRemoved)
	var presenceRemoved messages.PresenceRemoved
	require.NoError(t, json.Unmarshal(removed.Payload, &presenceRemoved))
	assert.Equal(t, int64(1), presenceRemoved.PlayerID)

	saved := <-env.savePlayerChan
	assert.Equal(t, int64(1), saved.PlayerID)

	// A second disconnect is a no-op and must not re-broadcast.
	sess.Disconnect("again")
	observerConn.assertNothing(t)
}

// A rejoin on one connection racing an evicting join on another must
// never leave a presence entry behind for a torn-down session, nor a
// joined session missing from the registry.
func TestSession_JoinRacingEvictionTeardown(t *testing.T) {
	for i := 0; i < 200; i++ {
		env := newTestEnv(t, nil)
		oldConn := newFakeConn()
		oldSess := env.join(t, oldConn, 1, "mira")

		newConn := newFakeConn()
		newSess := env.manager.StartSession(context.Background(), newConn)

		rejoin := env.joinMessage(t, 1, "mira", messages.Position{X: 1})
		evictingJoin := env.joinMessage(t, 1, "mira", messages.Position{X: 2})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			oldSess.HandleMessage(context.Background(), rejoin)
		}()
		go func() {
			defer wg.Done()
			newSess.HandleMessage(context.Background(), evictingJoin)
		}()
		wg.Wait()

		// Every presence entry must belong to a session that is still
		// joined, and the player appears at most once.
		entries := env.manager.registry.All()
		require.LessOrEqual(t, len(entries), 1)
		for _, entry := range entries {
			sess, ok := env.manager.session(entry.ConnectionID)
			require.True(t, ok, "presence entry for a session that no longer exists")
			require.Equal(t, StateJoined, sess.State())
		}
	}
}

func TestSession_JoinEvictsPreviousSession(t *testing.T) {
	env := newTestEnv(t, nil)
	staleConn := newFakeConn()
	observerConn := newFakeConn()
	env.join(t, staleConn, 1, "mira")
	env.join(t, observerConn, 2, "jun")
	staleConn.receiveType(t, messages.MessageTypePresenceUpdate)

	freshConn := newFakeConn()
	fresh := env.manager.StartSession(context.Background(), freshConn)
	fresh.HandleMessage(context.Background(), env.joinMessage(t, 1, "mira", messages.Position{X: 4}))

	// The stale session is force-closed and its late teardown does not
	// announce the player as gone.
	assert.Eventually(t, staleConn.isClosed, time.Second, 5*time.Millisecond)

	freshConn.receiveType(t, messages.MessageTypeJoinSuccess)
	echo := freshConn.receiveType(t, messages.MessageTypePresenceUpdate)
	var update messages.PresenceUpdate
	require.NoError(t, json.Unmarshal(echo.Payload, &update))
	assert.Equal(t, messages.Position{X: 4}, update.Position)

	// Observers see the old connection leave, then the new presence.
	removed := observerConn.receiveType(t, messages.MessageTypePresenceRemoved)
	var presenceRemoved messages.PresenceRemoved
	require.NoError(t, json.Unmarshal(removed.Payload, &presenceRemoved))
	assert.Equal(t, int64(1), presenceRemoved.PlayerID)
	refreshed := observerConn.receiveType(t, messages.MessageTypePresenceUpdate)
	require.NoError(t, json.Unmarshal(refreshed.Payload, &update))
	assert.Equal(t, int64(1), update.PlayerID)
	observerConn.assertNothing(t)

	assert.Equal(t, 2, env.manager.registry.Count())
	assert.Equal(t, 2, env.manager.SessionCount())
}
