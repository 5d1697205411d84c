package repositories

import (
	"context"

	"github.com/verdant-game/verdant/pkg/repositories/models"
)

type Repository interface {
	Close(ctx context.Context) error

	// Players
	CreatePlayer(ctx context.Context, username string, passwordHash string, avatarType string) (*models.Player, error)
	GetPlayer(ctx context.Context, playerID int64) (*models.Player, error)
	GetPlayerByUsername(ctx context.Context, username string) (*models.Player, error)
	ListPlayers(ctx context.Context) ([]*models.Player, error)
	SavePlayerState(ctx context.Context, timestamp int64, player *models.Player) error
	SavePlayerPosition(ctx context.Context, timestamp int64, playerID int64, x float64, y float64) error
	DeletePlayer(ctx context.Context, playerID int64) error

	// Tiles
	CreateTile(ctx context.Context, tile *models.Tile) (*models.Tile, error)
	GetTile(ctx context.Context, tileID int64) (*models.Tile, error)
	ListTiles(ctx context.Context) ([]*models.Tile, error)
	LoadTiles(ctx context.Context, mapID int64) ([]*models.Tile, error)
	ListBlockedTiles(ctx context.Context, mapID int64) ([]*models.Tile, error)
	SaveTile(ctx context.Context, timestamp int64, tile *models.Tile) error
	BlockTiles(ctx context.Context, tileIDs []int64) error
	DeleteTile(ctx context.Context, tileID int64) error

	// Action log
	LogAction(ctx context.Context, entry *models.ActionLogEntry) error
	ListActions(ctx context.Context) ([]*models.ActionLogEntry, error)
	ListActionsByPlayer(ctx context.Context, playerID int64) ([]*models.ActionLogEntry, error)

	// Chat log
	SaveChatMessage(ctx context.Context, message *models.ChatMessage) error
	ListChatMessages(ctx context.Context, limit int) ([]*models.ChatMessage, error)
}
