package workers

import (
	"context"
	"time"

	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/presence"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
)

// SaveTileRequest asks for a durable write of a tile's live state.
type SaveTileRequest struct {
	Timestamp int64
	Tile      models.Tile
}

// SavePlayerPositionRequest asks for a durable write of a player's
// last-known position.
type SavePlayerPositionRequest struct {
	Timestamp int64
	PlayerID  int64
	X         float64
	Y         float64
}

// SaveChatMessageRequest appends a chat message to the durable log.
type SaveChatMessageRequest struct {
	Timestamp int64
	PlayerID  int64
	Content   string
}

// LogActionRequest appends a performed action to the durable log.
type LogActionRequest struct {
	Entry models.ActionLogEntry
}

type SaveWorker struct {
	repository          repositories.Repository
	registry            *presence.Registry
	saveTileChan        <-chan SaveTileRequest
	savePlayerChan      <-chan SavePlayerPositionRequest
	saveChatMessageChan <-chan SaveChatMessageRequest
	logActionChan       <-chan LogActionRequest
	interval            time.Duration
}

type NewSaveWorkerOptions struct {
	Repository          repositories.Repository
	Registry            *presence.Registry
	SaveTileChan        <-chan SaveTileRequest
	SavePlayerChan      <-chan SavePlayerPositionRequest
	SaveChatMessageChan <-chan SaveChatMessageRequest
	LogActionChan       <-chan LogActionRequest
	Interval            time.Duration
}

// NewSaveWorker creates a new SaveWorker.
// The worker drains write-behind requests from the realtime core and
// periodically sweeps the positions of present players to the store.
func NewSaveWorker(opts NewSaveWorkerOptions) *SaveWorker {
	return &SaveWorker{
		repository:          opts.Repository,
		registry:            opts.Registry,
		saveTileChan:        opts.SaveTileChan,
		savePlayerChan:      opts.SavePlayerChan,
		saveChatMessageChan: opts.SaveChatMessageChan,
		logActionChan:       opts.LogActionChan,
		interval:            opts.Interval,
	}
}

func (w *SaveWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.saveTileChan:
			w.saveTile(ctx, req)
		case req := <-w.savePlayerChan:
			w.savePlayerPosition(ctx, req)
		case req := <-w.saveChatMessageChan:
			w.saveChatMessage(ctx, req)
		case req := <-w.logActionChan:
			w.logAction(ctx, req)
		case t := <-ticker.C:
			w.sweepPresence(ctx, t.UnixMilli())
		}
	}
}

func (w *SaveWorker) saveTile(ctx context.Context, req SaveTileRequest) {
	if err := w.repository.SaveTile(ctx, req.Timestamp, &req.Tile); err != nil {
		log.Error("Failed to save tile %d: %v", req.Tile.ID, err)
	}
}

func (w *SaveWorker) savePlayerPosition(ctx context.Context, req SavePlayerPositionRequest) {
	if err := w.repository.SavePlayerPosition(ctx, req.Timestamp, req.PlayerID, req.X, req.Y); err != nil {
		log.Error("Failed to save position for player %d: %v", req.PlayerID, err)
	}
}

func (w *SaveWorker) saveChatMessage(ctx context.Context, req SaveChatMessageRequest) {
	message := &models.ChatMessage{
		PlayerID:  req.PlayerID,
		Content:   req.Content,
		CreatedAt: req.Timestamp,
	}
	if err := w.repository.SaveChatMessage(ctx, message); err != nil {
		log.Error("Failed to save chat message from player %d: %v", req.PlayerID, err)
	}
}

func (w *SaveWorker) logAction(ctx context.Context, req LogActionRequest) {
	if err := w.repository.LogAction(ctx, &req.Entry); err != nil {
		log.Error("Failed to log action for player %d: %v", req.Entry.PlayerID, err)
	}
}

func (w *SaveWorker) sweepPresence(ctx context.Context, timestamp int64) {
	for _, entry := range w.registry.All() {
		if err := w.repository.SavePlayerPosition(ctx, timestamp, entry.PlayerID, entry.Position.X, entry.Position.Y); err != nil {
			log.Error("Failed to sweep position for player %d: %v", entry.PlayerID, err)
		}
	}
}
