package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
)

func HandleCreateTile(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tile models.Tile
		if err := json.NewDecoder(r.Body).Decode(&tile); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if tile.State == "" {
			http.Error(w, "Tile state is required", http.StatusBadRequest)
			return
		}

		created, err := repository.CreateTile(r.Context(), &tile)
		if err != nil {
			if repositories.IsNameExists(err) {
				http.Error(w, "Tile already exists at that position", http.StatusConflict)
				return
			}
			log.Error("failed to create tile: %v", err)
			http.Error(w, "Failed to create tile", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, created)
	}
}

func HandleGetTile(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tileID, err := strconv.ParseInt(mux.Vars(r)["tileID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid tile ID", http.StatusBadRequest)
			return
		}

		tile, err := repository.GetTile(r.Context(), tileID)
		if err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Tile not found", http.StatusNotFound)
				return
			}
			log.Error("failed to get tile %d: %v", tileID, err)
			http.Error(w, "Failed to get tile", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, tile)
	}
}

// HandleListTiles lists every tile, or one map's tiles when mapId is
// given as a query parameter.
func HandleListTiles(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tiles []*models.Tile
		var err error
		if rawMapID := r.URL.Query().Get("mapId"); rawMapID != "" {
			var mapID int64
			mapID, err = strconv.ParseInt(rawMapID, 10, 64)
			if err != nil {
				http.Error(w, "Invalid map ID", http.StatusBadRequest)
				return
			}
			tiles, err = repository.LoadTiles(r.Context(), mapID)
		} else {
			tiles, err = repository.ListTiles(r.Context())
		}
		if err != nil {
			log.Error("failed to list tiles: %v", err)
			http.Error(w, "Failed to list tiles", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, tiles)
	}
}

func HandleListBlockedTiles(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mapID, err := strconv.ParseInt(mux.Vars(r)["mapID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid map ID", http.StatusBadRequest)
			return
		}

		tiles, err := repository.ListBlockedTiles(r.Context(), mapID)
		if err != nil {
			log.Error("failed to list blocked tiles for map %d: %v", mapID, err)
			http.Error(w, "Failed to list blocked tiles", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, tiles)
	}
}

// HandleSaveTiles saves a batch of tiles keyed by tile ID. The key is
// authoritative for identity; an ID inside the tile body is ignored.
func HandleSaveTiles(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch map[string]models.Tile
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		timestamp := time.Now().UnixMilli()
		saved := 0
		for key, tile := range batch {
			tileID, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				http.Error(w, "Invalid tile ID "+key, http.StatusBadRequest)
				return
			}
			tile.ID = tileID
			if err := repository.SaveTile(r.Context(), timestamp, &tile); err != nil {
				if repositories.IsNotFound(err) {
					http.Error(w, "Tile "+key+" not found", http.StatusNotFound)
					return
				}
				log.Error("failed to save tile %d: %v", tileID, err)
				http.Error(w, "Failed to save tiles", http.StatusInternalServerError)
				return
			}
			saved++
		}

		writeJSON(w, http.StatusOK, map[string]int{"saved": saved})
	}
}

type blockTilesRequest struct {
	TileIDs []int64 `json:"tileIds"`
}

// HandleBlockTiles marks a set of tiles as blocked in one transaction.
func HandleBlockTiles(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockTilesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.TileIDs) == 0 {
			http.Error(w, "No tile IDs given", http.StatusBadRequest)
			return
		}

		if err := repository.BlockTiles(r.Context(), req.TileIDs); err != nil {
			log.Error("failed to block tiles: %v", err)
			http.Error(w, "Failed to block tiles", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"blocked": len(req.TileIDs)})
	}
}

func HandleUpdateTile(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tileID, err := strconv.ParseInt(mux.Vars(r)["tileID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid tile ID", http.StatusBadRequest)
			return
		}

		var tile models.Tile
		if err := json.NewDecoder(r.Body).Decode(&tile); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		tile.ID = tileID

		if err := repository.SaveTile(r.Context(), time.Now().UnixMilli(), &tile); err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Tile not found", http.StatusNotFound)
				return
			}
			log.Error("failed to save tile %d: %v", tileID, err)
			http.Error(w, "Failed to save tile", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, &tile)
	}
}

func HandleDeleteTile(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tileID, err := strconv.ParseInt(mux.Vars(r)["tileID"], 10, 64)
		if err != nil {
			http.Error(w, "Invalid tile ID", http.StatusBadRequest)
			return
		}

		if err := repository.DeleteTile(r.Context(), tileID); err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Tile not found", http.StatusNotFound)
				return
			}
			log.Error("failed to delete tile %d: %v", tileID, err)
			http.Error(w, "Failed to delete tile", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
