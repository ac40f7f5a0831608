package fitcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
)

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SN1:g:optimize", Key("SN1", "g", gp.ModeOptimize))
	assert.Equal(t, "SN1:g:mcmc", Key("SN1", "g", gp.ModeMCMC))

	r := NewRedis(nil)
	assert.Equal(t, "lcr:fit:SN1:r:mcmc", r.key("SN1", "r", gp.ModeMCMC))
	r = NewRedis(nil, WithPrefix("test"), WithTTL(time.Hour))
	assert.Equal(t, "test:SN1:r:optimize", r.key("SN1", "r", gp.ModeOptimize))
	assert.Equal(t, time.Hour, r.ttl)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "SN1", "g", gp.ModeOptimize)
	require.NoError(t, err)
	assert.False(t, ok)

	fit := &gp.Fit{Filter: "g", Mode: gp.ModeOptimize, Mean: []float64{1}}
	require.NoError(t, m.Put(ctx, "SN1", fit))
	got, ok, err := m.Get(ctx, "SN1", "g", gp.ModeOptimize)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, fit, got)

	_, ok, _ = m.Get(ctx, "SN1", "g", gp.ModeMCMC)
	assert.False(t, ok)
}

func TestMemoryConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	filters := []string{"g", "r", "i", "z"}

	var wg sync.WaitGroup
	for _, f := range filters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = m.Put(ctx, "SN1", &gp.Fit{Filter: f})
				_, _, _ = m.Get(ctx, "SN1", f, gp.ModeOptimize)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, len(filters), m.Len())
}

type countingCache struct {
	*Memory
	gets int
	err  error
}

func (c *countingCache) Get(ctx context.Context, id, filter string, mode gp.Mode) (*gp.Fit, bool, error) {
	c.gets++
	if c.err != nil {
		return nil, false, c.err
	}
	return c.Memory.Get(ctx, id, filter, mode)
}

func TestLayered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l2 := &countingCache{Memory: NewMemory()}
	fit := &gp.Fit{Filter: "r", Mode: gp.ModeMCMC}
	require.NoError(t, l2.Put(ctx, "SN9", fit))

	c := NewLayered(l2)
	got, ok, err := c.Get(ctx, "SN9", "r", gp.ModeMCMC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, fit, got)

	// Second read is served by L1.
	_, ok, _ = c.Get(ctx, "SN9", "r", gp.ModeMCMC)
	assert.True(t, ok)
	assert.Equal(t, 1, l2.gets)

	require.NoError(t, c.Put(ctx, "SN10", &gp.Fit{Filter: "g"}))
	assert.Equal(t, 2, l2.Len())

	l2.err = errors.New("down")
	_, ok, err = c.Get(ctx, "SN11", "g", gp.ModeOptimize)
	assert.Error(t, err)
	assert.False(t, ok)
}

// fakeRedis implements the two commands Redis uses. Any other method
// panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	default:
		return redis.NewStatusResult("", errors.New("unsupported value type"))
	}
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestRedisGetPut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newFakeRedis()
	r := NewRedis(client, WithTTL(30*time.Minute))

	_, ok, err := r.Get(ctx, "SN1", "r", gp.ModeOptimize)
	require.NoError(t, err, "redis.Nil is a miss, not an error")
	assert.False(t, ok)

	fit := &gp.Fit{
		Filter:  "r",
		Mode:    gp.ModeMCMC,
		Grid:    []float64{0, 0.2, 0.4},
		Mean:    []float64{1, 2, 1},
		Std:     []float64{0.1, 0.1, 0.1},
		Hyper:   gp.Hyperparameters{Amplitude: 2, LengthScale: 5},
		Chain:   []gp.Hyperparameters{{Amplitude: 2, LengthScale: 5}},
		Times:   []float64{0, 1},
		Flux:    []float64{1, 2},
		FluxErr: []float64{0.1, 0.1},
		Digest:  "abc",
	}
	require.NoError(t, r.Put(ctx, "SN1", fit))
	assert.Equal(t, 30*time.Minute, client.ttls["lcr:fit:SN1:r:mcmc"])

	got, ok, err := r.Get(ctx, "SN1", "r", gp.ModeMCMC)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(fit, got); diff != "" {
		t.Errorf("fit round trip mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = r.Get(ctx, "SN1", "r", gp.ModeOptimize)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := newFakeRedis()
	r := NewRedis(client)

	client.data["lcr:fit:SN2:g:optimize"] = "{not json"
	_, ok, err := r.Get(ctx, "SN2", "g", gp.ModeOptimize)
	assert.ErrorContains(t, err, "decode cached fit")
	assert.False(t, ok)

	client.err = errors.New("connection refused")
	_, _, err = r.Get(ctx, "SN2", "g", gp.ModeOptimize)
	assert.ErrorIs(t, err, client.err)
	assert.ErrorIs(t, r.Put(ctx, "SN2", &gp.Fit{Filter: "g"}), client.err)
}
