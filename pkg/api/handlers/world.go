package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/verdant-game/verdant/pkg/catalog"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/messages"
	"github.com/verdant-game/verdant/pkg/presence"
	"github.com/verdant-game/verdant/pkg/repositories"
)

const defaultChatHistoryLimit = 50

func HandleListActions(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actions, err := repository.ListActions(r.Context())
		if err != nil {
			log.Error("failed to list actions: %v", err)
			http.Error(w, "Failed to list actions", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, actions)
	}
}

func HandleListPlayerActions(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := strconv.ParseInt(mux.Vars(r)["playerID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid player ID", http.StatusBadRequest)
			return
		}

		actions, err := repository.ListActionsByPlayer(r.Context(), playerID)
		if err != nil {
			log.Error("failed to list actions for player %d: %v", playerID, err)
			http.Error(w, "Failed to list actions", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, actions)
	}
}

func HandleListChatMessages(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultChatHistoryLimit
		if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
			parsed, err := strconv.Atoi(rawLimit)
			if err != nil || parsed < 1 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		chatMessages, err := repository.ListChatMessages(r.Context(), limit)
		if err != nil {
			log.Error("failed to list chat messages: %v", err)
			http.Error(w, "Failed to list chat messages", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, chatMessages)
	}
}

// HandleGetCatalog returns the fixed set of tile actions clients can
// perform.
func HandleGetCatalog(c *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.All())
	}
}

type presenceEntry struct {
	PlayerID int64             `json:"player_id"`
	Username string            `json:"username"`
	Position messages.Position `json:"position"`
	MapID    int64             `json:"map_id"`
}

// HandleListPresence reports who is currently online.
func HandleListPresence(registry *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := registry.All()
		out := make([]presenceEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, presenceEntry{
				PlayerID: e.PlayerID,
				Username: e.Username,
				Position: e.Position,
				MapID:    e.MapID,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
