package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/verdant-game/verdant/pkg/catalog"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
	"github.com/verdant-game/verdant/pkg/workers"
)

const (
	// ProgressComplete is the progress value at which a tile transitions.
	ProgressComplete = 100
)

// Result describes the outcome of one contribution.
type Result struct {
	TileID    int64
	Progress  float64
	Completed bool
	State     string
}

// Ledger holds the authoritative live copy of every tile and applies
// bounded, additive progress contributions. Contributions to the same
// tile serialize on a per-tile mutex so the completion transition is
// applied exactly once; contributions to different tiles do not block
// each other.
type Ledger struct {
	catalog      *catalog.Catalog
	repository   repositories.Repository
	saveTileChan chan<- workers.SaveTileRequest

	mu    sync.RWMutex
	tiles map[int64]*tileEntry
}

type tileEntry struct {
	mu   sync.Mutex
	tile models.Tile
}

// NewLedgerOptions contains options for creating a new Ledger.
type NewLedgerOptions struct {
	Catalog      *catalog.Catalog
	Repository   repositories.Repository
	SaveTileChan chan<- workers.SaveTileRequest
}

func NewLedger(opts NewLedgerOptions) *Ledger {
	return &Ledger{
		catalog:      opts.Catalog,
		repository:   opts.Repository,
		saveTileChan: opts.SaveTileChan,
		tiles:        make(map[int64]*tileEntry),
	}
}

// LoadAll bootstraps the live tile set from the repository.
func (l *Ledger) LoadAll(ctx context.Context) error {
	tiles, err := l.repository.ListTiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tiles: %v", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.tiles = make(map[int64]*tileEntry, len(tiles))
	for _, tile := range tiles {
		l.tiles[tile.ID] = &tileEntry{tile: *tile}
	}

	log.Info("Loaded %d tiles into the ledger", len(tiles))
	return nil
}

// GetTile returns a copy of the live tile.
func (l *Ledger) GetTile(tileID int64) (models.Tile, error) {
	entry, err := l.entry(tileID)
	if err != nil {
		return models.Tile{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.tile, nil
}

// ApplyContribution adds the action's fixed increment to the tile's
// progress. The increment always comes from the action catalog; clients
// never supply an absolute progress value. Reaching full progress
// transitions the tile to the action's target state, resets progress and
// clears the blocked flag, exactly once, and queues a durable write.
// A tile already in the action's target state ignores the contribution.
func (l *Ledger) ApplyContribution(tileID int64, actionID int64) (Result, error) {
	action, err := l.catalog.Lookup(actionID)
	if err != nil {
		return Result{}, err
	}

	entry, err := l.entry(tileID)
	if err != nil {
		return Result{}, err
	}

	entry.mu.Lock()
	tile := &entry.tile

	if tile.State == action.TargetState {
		result := Result{
			TileID:   tileID,
			Progress: tile.Progress,
			State:    tile.State,
		}
		entry.mu.Unlock()
		return result, nil
	}

	progress := tile.Progress + action.ProgressPerClick
	if progress > ProgressComplete {
		progress = ProgressComplete
	}

	completed := progress >= ProgressComplete
	if completed {
		tile.State = action.TargetState
		tile.Progress = 0
		tile.Blocked = false
	} else {
		tile.Progress = progress
	}

	result := Result{
		TileID:    tileID,
		Progress:  tile.Progress,
		Completed: completed,
		State:     tile.State,
	}
	flushCopy := *tile
	entry.mu.Unlock()

	// The durable write happens outside the tile lock so a slow store
	// never serializes contributions.
	if completed {
		l.requestSave(flushCopy)
	}

	return result, nil
}

// Flush queues a durable write of the tile's live state.
func (l *Ledger) Flush(tileID int64) error {
	entry, err := l.entry(tileID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	flushCopy := entry.tile
	entry.mu.Unlock()

	l.requestSave(flushCopy)
	return nil
}

// Snapshot returns a copy of every live tile.
func (l *Ledger) Snapshot() []models.Tile {
	l.mu.RLock()
	entries := make([]*tileEntry, 0, len(l.tiles))
	for _, entry := range l.tiles {
		entries = append(entries, entry)
	}
	l.mu.RUnlock()

	tiles := make([]models.Tile, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		tiles = append(tiles, entry.tile)
		entry.mu.Unlock()
	}
	return tiles
}

func (l *Ledger) entry(tileID int64) (*tileEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.tiles[tileID]
	if !ok {
		return nil, &repositories.ErrNotFound{}
	}
	return entry, nil
}

func (l *Ledger) requestSave(tile models.Tile) {
	l.saveTileChan <- workers.SaveTileRequest{
		Timestamp: time.Now().UnixMilli(),
		Tile:      tile,
	}
}
