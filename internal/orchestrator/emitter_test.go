package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/grocery-tracker/internal/config"
	"github.com/maltedev/grocery-tracker/internal/events"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenResults(t *testing.T) {
	store, err := OpenResults(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg := &config.Config{}
	cfg.Extraction.ResultsFile = filepath.Join(t.TempDir(), "latest.json")
	store, err = OpenResults(cfg)
	require.NoError(t, err)
	assert.NotNil(t, store)

	require.NoError(t, os.WriteFile(cfg.Extraction.ResultsFile, []byte("{"), 0644))
	_, err = OpenResults(cfg)
	assert.Error(t, err)
}

func TestNewEmitter(t *testing.T) {
	ctx := context.Background()

	t.Run("log only", func(t *testing.T) {
		emitter, err := NewEmitter(ctx, &config.Config{}, nil, testLogger())
		require.NoError(t, err)
		assert.IsType(t, &events.LogEmitter{}, emitter)
	})

	t.Run("log and snapshot file", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Extraction.ResultsFile = filepath.Join(t.TempDir(), "latest.json")
		store, err := OpenResults(cfg)
		require.NoError(t, err)

		emitter, err := NewEmitter(ctx, cfg, store, testLogger())
		require.NoError(t, err)
		fanout, ok := emitter.(events.Fanout)
		require.True(t, ok)
		assert.Len(t, fanout, 2)

		record := models.NewProductRecord("costco", "https://costco.test/1", testLocation, true)
		assert.NoError(t, emitter.EmitProduct(ctx, record))
		assert.FileExists(t, cfg.Extraction.ResultsFile)

		stored, ok := store.Get(record.URL)
		require.True(t, ok)
		assert.Equal(t, "costco", stored.Vendor)
		assert.NoError(t, emitter.Close())
	})

	t.Run("bad redis url", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Redis.URL = "::bad::"
		_, err := NewEmitter(ctx, cfg, nil, testLogger())
		assert.Error(t, err)
	})
}
