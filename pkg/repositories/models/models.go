package models

// Player is the durable account record. PasswordHash never leaves the
// repository layer in API responses.
type Player struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	PasswordHash string  `json:"-"`
	AvatarType   string  `json:"avatar_type"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	TargetX      float64 `json:"target_x"`
	TargetY      float64 `json:"target_y"`
	Direction    string  `json:"direction"`
	Action       string  `json:"action"`
}

// Tile is the durable copy of a world tile. The ledger owns the live copy
// while the server is running.
type Tile struct {
	ID       int64   `json:"id"`
	MapID    int64   `json:"map_id"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Type     string  `json:"type"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Blocked  bool    `json:"is_blocked"`
}

// ActionLogEntry records a performed tile action.
type ActionLogEntry struct {
	ID         int64  `json:"id"`
	PlayerID   int64  `json:"player_id"`
	ActionType string `json:"action_type"`
	TileID     int64  `json:"target_tile_id"`
	Result     string `json:"result"`
	CreatedAt  int64  `json:"created_at"`
}

// ChatMessage is an append-only chat log row.
type ChatMessage struct {
	ID        int64  `json:"id"`
	PlayerID  int64  `json:"player_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}
