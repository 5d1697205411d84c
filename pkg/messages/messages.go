package messages

import "encoding/json"

const (
	// MessageBufferSize represents the maximum size of a message
	MessageBufferSize = 4096
)

// Client message types
const (
	MessageTypePlayerJoin = "player-join"
	MessageTypePlayerMove = "player-move"
	MessageTypeChatSend   = "chat-send"
	MessageTypeTileAction = "tile-action"
)

// Server message types
const (
	MessageTypeJoinSuccess      = "join-success"
	MessageTypeJoinFailure      = "join-failure"
	MessageTypePresenceUpdate   = "presence-update"
	MessageTypePresenceRemoved  = "presence-removed"
	MessageTypeChatBroadcast    = "chat-broadcast"
	MessageTypeTileProgress     = "tile-progress"
	MessageTypeTileStateChanged = "tile-state-changed"
	MessageTypeServerError      = "server-error"
)

// Message represents a generic message for serialization/deserialization
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Position is a point on the shared tile grid.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerJoin is sent by a client to bind an identity to its connection.
type PlayerJoin struct {
	Token    string   `json:"token"`
	PlayerID int64    `json:"playerId"`
	Username string   `json:"username"`
	Position Position `json:"position"`
	MapID    int64    `json:"mapId"`
}

// PlayerMove is sent by a joined client when its position changes.
type PlayerMove struct {
	Position Position `json:"position"`
}

// ChatSend is sent by a joined client to say something.
type ChatSend struct {
	Content string `json:"content"`
}

// TileAction is sent by a joined client contributing to a tile.
type TileAction struct {
	TileID   int64 `json:"tileId"`
	ActionID int64 `json:"actionId"`
}

// JoinSuccess acknowledges a join and carries the current presence snapshot
// so the client can reconcile who is already online.
type JoinSuccess struct {
	ConnectionID string           `json:"connectionId"`
	Players      []PresenceUpdate `json:"players"`
}

// JoinFailure tells a client why its join was rejected.
type JoinFailure struct {
	Reason string `json:"reason"`
}

// PresenceUpdate is broadcast to all clients on join and movement.
type PresenceUpdate struct {
	PlayerID int64    `json:"playerId"`
	Username string   `json:"username"`
	Position Position `json:"position"`
	MapID    int64    `json:"mapId"`
}

// PresenceRemoved is broadcast to all clients when a player leaves.
type PresenceRemoved struct {
	PlayerID int64 `json:"playerId"`
}

// ChatBroadcast is delivered to all clients, including the sender.
type ChatBroadcast struct {
	PlayerID  int64    `json:"playerId"`
	Username  string   `json:"username"`
	Content   string   `json:"content"`
	Position  Position `json:"position"`
	MapID     int64    `json:"mapId"`
	Timestamp int64    `json:"timestamp"`
}

// TileProgress is broadcast after every accepted contribution.
type TileProgress struct {
	TileID   int64   `json:"tileId"`
	Progress float64 `json:"progress"`
}

// TileStateChanged is broadcast when a tile reaches full progress.
type TileStateChanged struct {
	TileID   int64  `json:"tileId"`
	NewState string `json:"newState"`
}

// ServerError reports a per-request failure back to the originating client.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ServerError payloads.
const (
	ErrorCodeNotFound   = "not-found"
	ErrorCodeValidation = "validation"
)
