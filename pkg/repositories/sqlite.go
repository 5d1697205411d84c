package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/verdant-game/verdant/pkg/repositories/models"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string, migrations string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) CreatePlayer(ctx context.Context, username string, passwordHash string, avatarType string) (*models.Player, error) {
	q := `
	INSERT INTO players (username, password, avatar_type)
	VALUES (?, ?, ?);
	`
	result, err := r.db.ExecContext(ctx, q, username, passwordHash, avatarType)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, &ErrNameExists{}
		}
		return nil, fmt.Errorf("failed to insert player: %v", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted player id: %v", err)
	}

	return &models.Player{
		ID:         id,
		Username:   username,
		AvatarType: avatarType,
		Direction:  "down",
		Action:     "idle",
	}, nil
}

func (r *SQLiteRepository) GetPlayer(ctx context.Context, playerID int64) (*models.Player, error) {
	q := `
	SELECT id, username, password, avatar_type, x, y, target_x, target_y, direction, action
	FROM players WHERE id = ?;
	`
	return r.scanPlayer(r.db.QueryRowContext(ctx, q, playerID))
}

func (r *SQLiteRepository) GetPlayerByUsername(ctx context.Context, username string) (*models.Player, error) {
	q := `
	SELECT id, username, password, avatar_type, x, y, target_x, target_y, direction, action
	FROM players WHERE username = ?;
	`
	return r.scanPlayer(r.db.QueryRowContext(ctx, q, username))
}

func (r *SQLiteRepository) scanPlayer(row *sql.Row) (*models.Player, error) {
	player := &models.Player{}
	err := row.Scan(&player.ID, &player.Username, &player.PasswordHash, &player.AvatarType,
		&player.X, &player.Y, &player.TargetX, &player.TargetY, &player.Direction, &player.Action)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan player: %v", err)
	}
	return player, nil
}

func (r *SQLiteRepository) ListPlayers(ctx context.Context) ([]*models.Player, error) {
	q := `
	SELECT id, username, avatar_type, x, y, target_x, target_y, direction, action
	FROM players;
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %v", err)
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		player := &models.Player{}
		if err := rows.Scan(&player.ID, &player.Username, &player.AvatarType,
			&player.X, &player.Y, &player.TargetX, &player.TargetY, &player.Direction, &player.Action); err != nil {
			return nil, fmt.Errorf("failed to scan player: %v", err)
		}
		players = append(players, player)
	}

	return players, rows.Err()
}

func (r *SQLiteRepository) SavePlayerState(ctx context.Context, timestamp int64, player *models.Player) error {
	q := `
	UPDATE players SET x = ?, y = ?, target_x = ?, target_y = ?, direction = ?, action = ?, updated_at = ?
	WHERE id = ?;
	`
	result, err := r.db.ExecContext(ctx, q, player.X, player.Y, player.TargetX, player.TargetY,
		player.Direction, player.Action, timestamp, player.ID)
	if err != nil {
		return fmt.Errorf("failed to update player: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if affected == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *SQLiteRepository) SavePlayerPosition(ctx context.Context, timestamp int64, playerID int64, x float64, y float64) error {
	q := `
	UPDATE players SET x = ?, y = ?, updated_at = ? WHERE id = ?;
	`
	if _, err := r.db.ExecContext(ctx, q, x, y, timestamp, playerID); err != nil {
		return fmt.Errorf("failed to update player position: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) DeletePlayer(ctx context.Context, playerID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE id = ?;`, playerID)
	if err != nil {
		return fmt.Errorf("failed to delete player: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if affected == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *SQLiteRepository) CreateTile(ctx context.Context, tile *models.Tile) (*models.Tile, error) {
	q := `
	INSERT INTO tiles (map_id, x, y, type, state, progress, is_blocked)
	VALUES (?, ?, ?, ?, ?, ?, ?);
	`
	result, err := r.db.ExecContext(ctx, q, tile.MapID, tile.X, tile.Y, tile.Type, tile.State,
		tile.Progress, tile.Blocked)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tile: %v", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted tile id: %v", err)
	}

	created := *tile
	created.ID = id
	return &created, nil
}

func (r *SQLiteRepository) GetTile(ctx context.Context, tileID int64) (*models.Tile, error) {
	q := `
	SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles WHERE id = ?;
	`
	tile := &models.Tile{}
	err := r.db.QueryRowContext(ctx, q, tileID).Scan(&tile.ID, &tile.MapID, &tile.X, &tile.Y,
		&tile.Type, &tile.State, &tile.Progress, &tile.Blocked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan tile: %v", err)
	}
	return tile, nil
}

func (r *SQLiteRepository) ListTiles(ctx context.Context) ([]*models.Tile, error) {
	return r.queryTiles(ctx, `SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles;`)
}

func (r *SQLiteRepository) LoadTiles(ctx context.Context, mapID int64) ([]*models.Tile, error) {
	q := `SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles WHERE map_id = ?;`
	return r.queryTiles(ctx, q, mapID)
}

func (r *SQLiteRepository) ListBlockedTiles(ctx context.Context, mapID int64) ([]*models.Tile, error) {
	q := `SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles WHERE map_id = ? AND is_blocked = 1;`
	return r.queryTiles(ctx, q, mapID)
}

func (r *SQLiteRepository) queryTiles(ctx context.Context, q string, args ...interface{}) ([]*models.Tile, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles: %v", err)
	}
	defer rows.Close()

	var tiles []*models.Tile
	for rows.Next() {
		tile := &models.Tile{}
		if err := rows.Scan(&tile.ID, &tile.MapID, &tile.X, &tile.Y, &tile.Type, &tile.State,
			&tile.Progress, &tile.Blocked); err != nil {
			return nil, fmt.Errorf("failed to scan tile: %v", err)
		}
		tiles = append(tiles, tile)
	}

	return tiles, rows.Err()
}

func (r *SQLiteRepository) SaveTile(ctx context.Context, timestamp int64, tile *models.Tile) error {
	q := `
	UPDATE tiles SET type = ?, state = ?, progress = ?, is_blocked = ?, updated_at = ?
	WHERE id = ?;
	`
	result, err := r.db.ExecContext(ctx, q, tile.Type, tile.State, tile.Progress, tile.Blocked,
		timestamp, tile.ID)
	if err != nil {
		return fmt.Errorf("failed to update tile: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if affected == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *SQLiteRepository) BlockTiles(ctx context.Context, tileIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	for _, tileID := range tileIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE tiles SET is_blocked = 1 WHERE id = ?;`, tileID); err != nil {
			return fmt.Errorf("failed to block tile %d: %v", tileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) DeleteTile(ctx context.Context, tileID int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tiles WHERE id = ?;`, tileID)
	if err != nil {
		return fmt.Errorf("failed to delete tile: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %v", err)
	}
	if affected == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *SQLiteRepository) LogAction(ctx context.Context, entry *models.ActionLogEntry) error {
	q := `
	INSERT INTO actions (player_id, action_type, target_tile_id, result, created_at)
	VALUES (?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, entry.PlayerID, entry.ActionType, entry.TileID,
		entry.Result, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert action: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) ListActions(ctx context.Context) ([]*models.ActionLogEntry, error) {
	q := `SELECT id, player_id, action_type, target_tile_id, result, created_at FROM actions;`
	return r.queryActions(ctx, q)
}

func (r *SQLiteRepository) ListActionsByPlayer(ctx context.Context, playerID int64) ([]*models.ActionLogEntry, error) {
	q := `SELECT id, player_id, action_type, target_tile_id, result, created_at FROM actions WHERE player_id = ?;`
	return r.queryActions(ctx, q, playerID)
}

func (r *SQLiteRepository) queryActions(ctx context.Context, q string, args ...interface{}) ([]*models.ActionLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %v", err)
	}
	defer rows.Close()

	var entries []*models.ActionLogEntry
	for rows.Next() {
		entry := &models.ActionLogEntry{}
		if err := rows.Scan(&entry.ID, &entry.PlayerID, &entry.ActionType, &entry.TileID,
			&entry.Result, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %v", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *SQLiteRepository) SaveChatMessage(ctx context.Context, message *models.ChatMessage) error {
	q := `
	INSERT INTO chat_messages (player_id, content, created_at)
	VALUES (?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, message.PlayerID, message.Content, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) ListChatMessages(ctx context.Context, limit int) ([]*models.ChatMessage, error) {
	q := `
	SELECT id, player_id, content, created_at FROM chat_messages
	ORDER BY created_at DESC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %v", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		message := &models.ChatMessage{}
		if err := rows.Scan(&message.ID, &message.PlayerID, &message.Content, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %v", err)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}
