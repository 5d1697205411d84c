package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant-game/verdant/pkg/catalog"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
	"github.com/verdant-game/verdant/pkg/workers"
)

type stubRepository struct {
	repositories.Repository
	tiles []*models.Tile
}

func (s *stubRepository) ListTiles(ctx context.Context) ([]*models.Tile, error) {
	return s.tiles, nil
}

func newTestLedger(t *testing.T, actions []catalog.Action, tiles []*models.Tile) (*Ledger, chan workers.SaveTileRequest) {
	t.Helper()
	saveTileChan := make(chan workers.SaveTileRequest, 1024)
	l := NewLedger(NewLedgerOptions{
		Catalog:      catalog.New(actions...),
		Repository:   &stubRepository{tiles: tiles},
		SaveTileChan: saveTileChan,
	})
	require.NoError(t, l.LoadAll(context.Background()))
	return l, saveTileChan
}

func TestLedger_ApplyContribution(t *testing.T) {
	actions := []catalog.Action{
		{ID: 1, Name: "Demolish", TargetState: "ruined", ProgressPerClick: 30},
	}

	t.Run("progress accumulates and completes exactly at full", func(t *testing.T) {
		l, saveTileChan := newTestLedger(t, actions, []*models.Tile{
			{ID: 7, MapID: 1, State: "polluted", Blocked: true},
		})

		expectedProgress := []float64{30, 60, 90}
		for _, expected := range expectedProgress {
			result, err := l.ApplyContribution(7, 1)
			require.NoError(t, err)
			assert.Equal(t, expected, result.Progress)
			assert.False(t, result.Completed)
			assert.Equal(t, "polluted", result.State)
		}

		result, err := l.ApplyContribution(7, 1)
		require.NoError(t, err)
		assert.True(t, result.Completed)
		assert.Equal(t, "ruined", result.State)
		assert.Equal(t, float64(0), result.Progress)

		saved := <-saveTileChan
		assert.Equal(t, int64(7), saved.Tile.ID)
		assert.Equal(t, "ruined", saved.Tile.State)
		assert.Equal(t, float64(0), saved.Tile.Progress)
		assert.False(t, saved.Tile.Blocked)
	})

	t.Run("tile already in target state ignores contributions", func(t *testing.T) {
		l, saveTileChan := newTestLedger(t, actions, []*models.Tile{
			{ID: 7, State: "ruined", Progress: 40},
		})

		result, err := l.ApplyContribution(7, 1)
		require.NoError(t, err)
		assert.False(t, result.Completed)
		assert.Equal(t, float64(40), result.Progress)
		assert.Equal(t, "ruined", result.State)
		assert.Empty(t, saveTileChan)
	})

	t.Run("unknown tile returns not found", func(t *testing.T) {
		l, _ := newTestLedger(t, actions, nil)

		_, err := l.ApplyContribution(99, 1)
		assert.True(t, repositories.IsNotFound(err))
	})

	t.Run("unknown action returns not found", func(t *testing.T) {
		l, _ := newTestLedger(t, actions, []*models.Tile{{ID: 7, State: "polluted"}})

		_, err := l.ApplyContribution(7, 42)
		assert.Error(t, err)
	})
}

func TestLedger_ApplyContribution_ConcurrentCompletion(t *testing.T) {
	actions := []catalog.Action{
		{ID: 1, Name: "Water", TargetState: "green", ProgressPerClick: 5},
	}
	l, saveTileChan := newTestLedger(t, actions, []*models.Tile{
		{ID: 3, State: "cleaned"},
	})

	const goroutines = 20
	const clicksEach = 5

	var wg sync.WaitGroup
	completions := make(chan Result, goroutines*clicksEach)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < clicksEach; j++ {
				result, err := l.ApplyContribution(3, 1)
				assert.NoError(t, err)
				if result.Completed {
					completions <- result
				}
			}
		}()
	}
	wg.Wait()
	close(completions)

	completed := 0
	for result := range completions {
		completed++
		assert.Equal(t, "green", result.State)
	}
	assert.Equal(t, 1, completed, "the transition must happen exactly once")
	assert.Len(t, saveTileChan, 1)

	tile, err := l.GetTile(3)
	require.NoError(t, err)
	assert.Equal(t, "green", tile.State)
	assert.Equal(t, float64(0), tile.Progress)
}

func TestLedger_Flush(t *testing.T) {
	actions := []catalog.Action{
		{ID: 1, Name: "Demolish", TargetState: "ruined", ProgressPerClick: 10},
	}
	l, saveTileChan := newTestLedger(t, actions, []*models.Tile{
		{ID: 5, State: "polluted", Progress: 20},
	})

	require.NoError(t, l.Flush(5))
	saved := <-saveTileChan
	assert.Equal(t, int64(5), saved.Tile.ID)
	assert.Equal(t, float64(20), saved.Tile.Progress)

	err := l.Flush(99)
	assert.True(t, repositories.IsNotFound(err))
}
