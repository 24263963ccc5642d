package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lintreports/internal/memstore"
	"github.com/kingrea/lintreports/internal/report"
)

func reportWithKeys(id string, position int, keys ...report.MemoryKey) *report.AgentReport {
	return &report.AgentReport{AgentID: id, Path: id + ".md", Position: position, MemoryKeys: keys}
}

func decode(t *testing.T, store memstore.Store, key string) Entry {
	t.Helper()
	raw, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	var entry Entry
	require.NoError(t, json.Unmarshal(raw, &entry))
	return entry
}

func TestPublishLaterPipelineStepWins(t *testing.T) {
	store := memstore.NewMemory()
	reports := []*report.AgentReport{
		reportWithKeys("09-late", 9, report.MemoryKey{Key: "research/meta/principles", Description: "revised"}),
		reportWithKeys("00-early", 1,
			report.MemoryKey{Key: "research/meta/principles", Description: "original"},
			report.MemoryKey{Key: "research/meta/criteria", Description: "criteria"},
		),
	}

	res, err := New(store, nil).Publish(context.Background(), reports)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Written)
	assert.Equal(t, []string{"research/meta/principles"}, res.Overwritten)
	assert.Empty(t, res.Skipped)

	entry := decode(t, store, "research/meta/principles")
	assert.Equal(t, Entry{Key: "research/meta/principles", Description: "revised", AgentID: "09-late", Source: "09-late.md"}, entry)
	assert.Equal(t, "00-early", decode(t, store, "research/meta/criteria").AgentID)
}

func TestPublishSkipsRejectedKeys(t *testing.T) {
	store := memstore.NewMemory()
	reports := []*report.AgentReport{
		reportWithKeys("a", 1, report.MemoryKey{Key: "research/meta/has space"}, report.MemoryKey{Key: "research/meta/ok"}),
	}
	res, err := New(store, nil).Publish(context.Background(), reports)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, []string{"research/meta/has space"}, res.Skipped)
}

func TestPublishToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := memstore.OpenRedis(context.Background(), memstore.RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)
	defer store.Close()

	_, err = New(store, nil).Publish(context.Background(), []*report.AgentReport{
		reportWithKeys("04-construct-definer", 5, report.MemoryKey{Key: "research/constructs/definitions", Description: "Twelve constructs"}),
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("research/constructs/definitions"))
	assert.Equal(t, "04-construct-definer", decode(t, store, "research/constructs/definitions").AgentID)
}

func TestPublishHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(memstore.NewMemory(), nil).Publish(ctx, []*report.AgentReport{
		reportWithKeys("a", 1, report.MemoryKey{Key: "research/meta/ok"}),
	})
	assert.ErrorIs(t, err, context.Canceled)
}
