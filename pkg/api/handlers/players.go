package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/verdant-game/verdant/pkg/api/middleware"
	"github.com/verdant-game/verdant/pkg/auth"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
)

type registerRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	AvatarType string `json:"avatar_type"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token  string         `json:"token"`
	Player *models.Player `json:"player"`
}

func HandleRegister(repository repositories.Repository, tokens auth.TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if err := auth.ValidateUsername(req.Username); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := auth.ValidatePassword(req.Password); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := auth.ValidateAvatarType(req.AvatarType); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		passwordHash, err := auth.HashPassword(req.Password)
		if err != nil {
			log.Error("failed to hash password: %v", err)
			http.Error(w, "Failed to register", http.StatusInternalServerError)
			return
		}

		player, err := repository.CreatePlayer(r.Context(), req.Username, passwordHash, req.AvatarType)
		if err != nil {
			if repositories.IsNameExists(err) {
				http.Error(w, "Username already exists", http.StatusConflict)
				return
			}
			log.Error("failed to create player: %v", err)
			http.Error(w, "Failed to register", http.StatusInternalServerError)
			return
		}

		token, err := tokens.Generate(player.ID, player.Username)
		if err != nil {
			log.Error("failed to generate token: %v", err)
			http.Error(w, "Failed to register", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, authResponse{Token: token, Player: player})
	}
}

func HandleLogin(repository repositories.Repository, tokens auth.TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		player, err := repository.GetPlayerByUsername(r.Context(), req.Username)
		if err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Invalid username or password", http.StatusUnauthorized)
				return
			}
			log.Error("failed to get player by username: %v", err)
			http.Error(w, "Failed to log in", http.StatusInternalServerError)
			return
		}

		if !auth.CheckPassword(player.PasswordHash, req.Password) {
			http.Error(w, "Invalid username or password", http.StatusUnauthorized)
			return
		}

		token, err := tokens.Generate(player.ID, player.Username)
		if err != nil {
			log.Error("failed to generate token: %v", err)
			http.Error(w, "Failed to log in", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, authResponse{Token: token, Player: player})
	}
}

func HandleGetPlayer(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := strconv.ParseInt(mux.Vars(r)["playerID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid player ID", http.StatusBadRequest)
			return
		}

		player, err := repository.GetPlayer(r.Context(), playerID)
		if err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Player not found", http.StatusNotFound)
				return
			}
			log.Error("failed to get player %d: %v", playerID, err)
			http.Error(w, "Failed to get player", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, player)
	}
}

func HandleListPlayers(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		players, err := repository.ListPlayers(r.Context())
		if err != nil {
			log.Error("failed to list players: %v", err)
			http.Error(w, "Failed to list players", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, players)
	}
}

// HandleUpdatePlayer saves a player's own state. Updating another
// player is forbidden.
func HandleUpdatePlayer(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		self, ok := middleware.PlayerFromContext(r.Context())
		if !ok {
			log.Error("failed to get player from context")
			http.Error(w, "Failed to get player from context", http.StatusInternalServerError)
			return
		}

		playerID, err := strconv.ParseInt(mux.Vars(r)["playerID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid player ID", http.StatusBadRequest)
			return
		}
		if playerID != self.ID {
			http.Error(w, "Cannot update another player", http.StatusForbidden)
			return
		}

		var player models.Player
		if err := json.NewDecoder(r.Body).Decode(&player); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		player.ID = playerID

		if err := repository.SavePlayerState(r.Context(), time.Now().UnixMilli(), &player); err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Player not found", http.StatusNotFound)
				return
			}
			log.Error("failed to save player %d: %v", playerID, err)
			http.Error(w, "Failed to save player", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, &player)
	}
}

func HandleDeletePlayer(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		self, ok := middleware.PlayerFromContext(r.Context())
		if !ok {
			log.Error("failed to get player from context")
			http.Error(w, "Failed to get player from context", http.StatusInternalServerError)
			return
		}

		playerID, err := strconv.ParseInt(mux.Vars(r)["playerID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid player ID", http.StatusBadRequest)
			return
		}
		if playerID != self.ID {
			http.Error(w, "Cannot delete another player", http.StatusForbidden)
			return
		}

		if err := repository.DeletePlayer(r.Context(), playerID); err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Player not found", http.StatusNotFound)
				return
			}
			log.Error("failed to delete player %d: %v", playerID, err)
			http.Error(w, "Failed to delete player", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
