package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavepick/internal/core/id"
	"wavepick/internal/domain/layout"
)

type fakeKV struct {
	store   map[string][]byte
	getErr  error
	setErr  error
	setKeys []string
}

func newFakeKV() *fakeKV {
	return &fakeKV{store: map[string][]byte{}}
}

func (f *fakeKV) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	val, ok := f.store[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(string(val))
	return cmd
}

func (f *fakeKV) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	f.store[key] = value.([]byte)
	f.setKeys = append(f.setKeys, key)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, key := range keys {
		if _, ok := f.store[key]; ok {
			delete(f.store, key)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

type fakeSource struct {
	layout layout.FloorLayout
	err    error
	calls  int
}

func (s *fakeSource) GetFloorLayout(ctx context.Context, floorID id.ID) (layout.FloorLayout, error) {
	s.calls++
	if s.err != nil {
		return layout.FloorLayout{}, s.err
	}
	return s.layout, nil
}

func testLayout(floorID id.ID) layout.FloorLayout {
	return layout.FloorLayout{
		Floor: layout.Floor{ID: floorID, Code: "1F", Width: 20, Height: 10, EntryX: 0.5, EntryY: 0.5},
		Obstacles: []layout.Obstacle{
			{ID: id.New(), FloorID: floorID, Bounds: layout.Rect{MinX: 5, MinY: 0, MaxX: 6, MaxY: 8}},
		},
	}
}

func TestGetFloorLayoutMissLoadsAndCaches(t *testing.T) {
	floorID := id.New()
	kv := newFakeKV()
	source := &fakeSource{layout: testLayout(floorID)}
	c := newLayoutCache(kv, source, time.Minute)

	fl, err := c.GetFloorLayout(context.Background(), floorID)
	require.NoError(t, err)
	assert.Equal(t, "1F", fl.Floor.Code)
	assert.Equal(t, 1, source.calls)
	assert.Len(t, kv.setKeys, 1)

	// Second read is served from the cache.
	fl, err = c.GetFloorLayout(context.Background(), floorID)
	require.NoError(t, err)
	assert.Equal(t, "1F", fl.Floor.Code)
	assert.Len(t, fl.Obstacles, 1)
	assert.Equal(t, 1, source.calls)
}

func TestGetFloorLayoutRedisDownFallsBack(t *testing.T) {
	floorID := id.New()
	kv := newFakeKV()
	kv.getErr = errors.New("connection refused")
	kv.setErr = errors.New("connection refused")
	source := &fakeSource{layout: testLayout(floorID)}
	c := newLayoutCache(kv, source, time.Minute)

	fl, err := c.GetFloorLayout(context.Background(), floorID)
	require.NoError(t, err)
	assert.Equal(t, floorID, fl.Floor.ID)
	assert.Equal(t, 1, source.calls)
}

func TestGetFloorLayoutCorruptEntryReloads(t *testing.T) {
	floorID := id.New()
	kv := newFakeKV()
	kv.store[layoutKey(floorID)] = []byte("{not json")
	source := &fakeSource{layout: testLayout(floorID)}
	c := newLayoutCache(kv, source, time.Minute)

	fl, err := c.GetFloorLayout(context.Background(), floorID)
	require.NoError(t, err)
	assert.Equal(t, floorID, fl.Floor.ID)
	assert.Equal(t, 1, source.calls)

	// The corrupt entry was replaced with a valid one.
	var cached layout.FloorLayout
	require.NoError(t, json.Unmarshal(kv.store[layoutKey(floorID)], &cached))
	assert.Equal(t, floorID, cached.Floor.ID)
}

func TestInvalidate(t *testing.T) {
	floorID := id.New()
	kv := newFakeKV()
	source := &fakeSource{layout: testLayout(floorID)}
	c := newLayoutCache(kv, source, time.Minute)

	_, err := c.GetFloorLayout(context.Background(), floorID)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(context.Background(), floorID))

	_, err = c.GetFloorLayout(context.Background(), floorID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestSourceErrorPropagates(t *testing.T) {
	kv := newFakeKV()
	source := &fakeSource{err: errors.New("boom")}
	c := newLayoutCache(kv, source, time.Minute)

	_, err := c.GetFloorLayout(context.Background(), id.New())
	assert.Error(t, err)
}
