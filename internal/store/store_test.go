package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, at time.Time) *Record {
	return &Record{
		ID:          id,
		Source:      "100-200.jsonl",
		SampleCount: 5,
		Scale:       24,
		Reference:   2 << 24,
		Optimized:   2 << 24,
		Circuit:     2 << 24,
		Volatility:  decimal.NewFromInt(2),
		CreatedAt:   at,
	}
}

func TestMemoryStoreSaveGet(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	rec := record("a", time.Unix(100, 0))
	require.NoError(t, st.Save(ctx, rec))
	assert.Error(t, st.Save(ctx, rec), "duplicate id")

	// stored copy is isolated from the caller
	rec.Source = "mutated"
	got, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "100-200.jsonl", got.Source)

	_, err = st.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, st.Save(ctx, record(fmt.Sprint(i), time.Unix(int64(100+i), 0))))
	}
	list, err := st.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"4", "3", "2"}, []string{list[0].ID, list[1].ID, list[2].ID})

	all, err := st.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMemoryStoreAttachArtifact(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Save(ctx, record("a", time.Unix(1, 0))))
	require.NoError(t, st.AttachArtifact(ctx, "a", "art-1"))
	got, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "art-1", got.ArtifactID)
	assert.ErrorIs(t, st.AttachArtifact(ctx, "b", "art-2"), ErrNotFound)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i)
			assert.NoError(t, st.Save(ctx, record(id, time.Unix(int64(i), 0))))
			_, _ = st.List(ctx, 10)
			_, err := st.Get(ctx, id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	all, err := st.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 32)
}

func TestRecordJSONKeepsExactVolatility(t *testing.T) {
	rec := record("a", time.Unix(1, 0).UTC())
	rec.Volatility = decimal.RequireFromString("0.000000059604644775390625")
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, rec.Volatility.Equal(back.Volatility))
	assert.Equal(t, "rv:record:a", recordKey("a"))
}
