package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	val, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", val)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestJSONRoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	type payload struct {
		Version int64  `json:"version"`
		Rate    string `json:"rate"`
	}

	require.NoError(t, SetJSON(ctx, m, "rules", payload{Version: 3, Rate: "0.30"}, 0))
	var got payload
	require.NoError(t, GetJSON(ctx, m, "rules", &got))
	require.Equal(t, int64(3), got.Version)

	require.NoError(t, m.Del(ctx, "rules"))
	require.ErrorIs(t, GetJSON(ctx, m, "rules", &got), ErrMiss)
}

func TestSetNXKeepsExistingValue(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	added, err := m.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, added)

	added, err = m.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	require.False(t, added)
	val, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "first", val)

	now = now.Add(time.Minute)
	added, err = AddJSON(ctx, m, "k", "third", 0)
	require.NoError(t, err)
	require.True(t, added)
}
