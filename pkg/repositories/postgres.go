package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/verdant-game/verdant/pkg/repositories/models"
)

const pgUniqueViolationCode = "23505"

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository connects to the database and applies the migrations
// in lexical order. The caller is responsible for calling Close().
func NewPostgresRepository(ctx context.Context, connStr string, migrations string) (Repository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
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

		if _, err := conn.Exec(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &PostgresRepository{
		conn: conn,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode
}

func (r *PostgresRepository) CreatePlayer(ctx context.Context, username string, passwordHash string, avatarType string) (*models.Player, error) {
	q := `
	INSERT INTO players (username, password, avatar_type)
	VALUES ($1, $2, $3) RETURNING id;
	`
	var id int64
	if err := r.conn.QueryRow(ctx, q, username, passwordHash, avatarType).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return nil, &ErrNameExists{}
		}
		return nil, fmt.Errorf("failed to insert player: %v", err)
	}

	return &models.Player{
		ID:         id,
		Username:   username,
		AvatarType: avatarType,
		Direction:  "down",
		Action:     "idle",
	}, nil
}

func (r *PostgresRepository) GetPlayer(ctx context.Context, playerID int64) (*models.Player, error) {
	q := `
	SELECT id, username, password, avatar_type, x, y, target_x, target_y, direction, action
	FROM players WHERE id = $1;
	`
	return r.scanPlayer(r.conn.QueryRow(ctx, q, playerID))
}

func (r *PostgresRepository) GetPlayerByUsername(ctx context.Context, username string) (*models.Player, error) {
	q := `
	SELECT id, username, password, avatar_type, x, y, target_x, target_y, direction, action
	FROM players WHERE username = $1;
	`
	return r.scanPlayer(r.conn.QueryRow(ctx, q, username))
}

func (r *PostgresRepository) scanPlayer(row pgx.Row) (*models.Player, error) {
	player := &models.Player{}
	err := row.Scan(&player.ID, &player.Username, &player.PasswordHash, &player.AvatarType,
		&player.X, &player.Y, &player.TargetX, &player.TargetY, &player.Direction, &player.Action)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan player: %v", err)
	}
	return player, nil
}

func (r *PostgresRepository) ListPlayers(ctx context.Context) ([]*models.Player, error) {
	q := `
	SELECT id, username, avatar_type, x, y, target_x, target_y, direction, action
	FROM players;
	`
	rows, err := r.conn.Query(ctx, q)
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

func (r *PostgresRepository) SavePlayerState(ctx context.Context, timestamp int64, player *models.Player) error {
	q := `
	UPDATE players SET x = $1, y = $2, target_x = $3, target_y = $4, direction = $5, action = $6, updated_at = $7
	WHERE id = $8;
	`
	tag, err := r.conn.Exec(ctx, q, player.X, player.Y, player.TargetX, player.TargetY,
		player.Direction, player.Action, timestamp, player.ID)
	if err != nil {
		return fmt.Errorf("failed to update player: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *PostgresRepository) SavePlayerPosition(ctx context.Context, timestamp int64, playerID int64, x float64, y float64) error {
	q := `
	UPDATE players SET x = $1, y = $2, updated_at = $3 WHERE id = $4;
	`
	if _, err := r.conn.Exec(ctx, q, x, y, timestamp, playerID); err != nil {
		return fmt.Errorf("failed to update player position: %v", err)
	}
	return nil
}

func (r *PostgresRepository) DeletePlayer(ctx context.Context, playerID int64) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM players WHERE id = $1;`, playerID)
	if err != nil {
		return fmt.Errorf("failed to delete player: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *PostgresRepository) CreateTile(ctx context.Context, tile *models.Tile) (*models.Tile, error) {
	q := `
	INSERT INTO tiles (map_id, x, y, type, state, progress, is_blocked)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id;
	`
	var id int64
	err := r.conn.QueryRow(ctx, q, tile.MapID, tile.X, tile.Y, tile.Type, tile.State,
		tile.Progress, tile.Blocked).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tile: %v", err)
	}

	created := *tile
	created.ID = id
	return &created, nil
}

func (r *PostgresRepository) GetTile(ctx context.Context, tileID int64) (*models.Tile, error) {
	q := `
	SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles WHERE id = $1;
	`
	tile := &models.Tile{}
	err := r.conn.QueryRow(ctx, q, tileID).Scan(&tile.ID, &tile.MapID, &tile.X, &tile.Y,
		&tile.Type, &tile.State, &tile.Progress, &tile.Blocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan tile: %v", err)
	}
	return tile, nil
}

func (r *PostgresRepository) ListTiles(ctx context.Context) ([]*models.Tile, error) {
	return r.queryTiles(ctx, `SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles;`)
}

func (r *PostgresRepository) LoadTiles(ctx context.Context, mapID int64) ([]*models.Tile, error) {
	q := `SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles WHERE map_id = $1;`
	return r.queryTiles(ctx, q, mapID)
}

func (r *PostgresRepository) ListBlockedTiles(ctx context.Context, mapID int64) ([]*models.Tile, error) {
	q := `SELECT id, map_id, x, y, type, state, progress, is_blocked FROM tiles WHERE map_id = $1 AND is_blocked;`
	return r.queryTiles(ctx, q, mapID)
}

func (r *PostgresRepository) queryTiles(ctx context.Context, q string, args ...interface{}) ([]*models.Tile, error) {
	rows, err := r.conn.Query(ctx, q, args...)
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

func (r *PostgresRepository) SaveTile(ctx context.Context, timestamp int64, tile *models.Tile) error {
	q := `
	UPDATE tiles SET type = $1, state = $2, progress = $3, is_blocked = $4, updated_at = $5
	WHERE id = $6;
	`
	tag, err := r.conn.Exec(ctx, q, tile.Type, tile.State, tile.Progress, tile.Blocked,
		timestamp, tile.ID)
	if err != nil {
		return fmt.Errorf("failed to update tile: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *PostgresRepository) BlockTiles(ctx context.Context, tileIDs []int64) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	for _, tileID := range tileIDs {
		if _, err := tx.Exec(ctx, `UPDATE tiles SET is_blocked = true WHERE id = $1;`, tileID); err != nil {
			return fmt.Errorf("failed to block tile %d: %v", tileID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteTile(ctx context.Context, tileID int64) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM tiles WHERE id = $1;`, tileID)
	if err != nil {
		return fmt.Errorf("failed to delete tile: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{}
	}

	return nil
}

func (r *PostgresRepository) LogAction(ctx context.Context, entry *models.ActionLogEntry) error {
	q := `
	INSERT INTO actions (player_id, action_type, target_tile_id, result, created_at)
	VALUES ($1, $2, $3, $4, $5);
	`
	_, err := r.conn.Exec(ctx, q, entry.PlayerID, entry.ActionType, entry.TileID,
		entry.Result, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert action: %v", err)
	}
	return nil
}

func (r *PostgresRepository) ListActions(ctx context.Context) ([]*models.ActionLogEntry, error) {
	q := `SELECT id, player_id, action_type, target_tile_id, result, created_at FROM actions;`
	return r.queryActions(ctx, q)
}

func (r *PostgresRepository) ListActionsByPlayer(ctx context.Context, playerID int64) ([]*models.ActionLogEntry, error) {
	q := `SELECT id, player_id, action_type, target_tile_id, result, created_at FROM actions WHERE player_id = $1;`
	return r.queryActions(ctx, q, playerID)
}

func (r *PostgresRepository) queryActions(ctx context.Context, q string, args ...interface{}) ([]*models.ActionLogEntry, error) {
	rows, err := r.conn.Query(ctx, q, args...)
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

func (r *PostgresRepository) SaveChatMessage(ctx context.Context, message *models.ChatMessage) error {
	q := `
	INSERT INTO chat_messages (player_id, content, created_at)
	VALUES ($1, $2, $3);
	`
	_, err := r.conn.Exec(ctx, q, message.PlayerID, message.Content, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %v", err)
	}
	return nil
}

func (r *PostgresRepository) ListChatMessages(ctx context.Context, limit int) ([]*models.ChatMessage, error) {
	q := `
	SELECT id, player_id, content, created_at FROM chat_messages
	ORDER BY created_at DESC LIMIT $1;
	`
	rows, err := r.conn.Query(ctx, q, limit)
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
