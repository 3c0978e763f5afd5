package embedding

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testCache(maxSize int, ttl time.Duration) *Cache {
	return NewCache(CacheConfig{MaxSize: maxSize, TTL: ttl}, nil, nil)
}

func constVector(vec []float32) ComputeFunc {
	return func(context.Context) ([]float32, error) {
		return vec, nil
	}
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	c := testCache(10, time.Minute)
	ctx := context.Background()

	var calls int32
	compute := func(context.Context) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return []float32{1, 2, 3}, nil
	}

	vec, hit, err := c.GetOrCompute(ctx, "flat in london", compute)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if hit {
		t.Error("first call hit = true, want miss")
	}
	if !reflect.DeepEqual(vec, []float32{1, 2, 3}) {
		t.Errorf("vector = %v, want [1 2 3]", vec)
	}

	vec, hit, err = c.GetOrCompute(ctx, "flat in london", compute)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if !hit {
		t.Error("second call hit = false, want hit")
	}
	if !reflect.DeepEqual(vec, []float32{1, 2, 3}) {
		t.Errorf("vector = %v, want [1 2 3]", vec)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute called %d times, want 1", n)
	}
}

func TestGetOrComputeSingleflight(t *testing.T) {
	c := testCache(10, time.Minute)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	compute := func(context.Context) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []float32{0.5}, nil
	}

	const waiters = 20
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	vecs := make([][]float32, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vecs[i], _, errs[i] = c.GetOrCompute(ctx, "same query", compute)
		}(i)
	}

	// Let the goroutines pile onto the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("compute called %d times for %d concurrent callers, want 1", n, waiters)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if !reflect.DeepEqual(vecs[i], []float32{0.5}) {
			t.Errorf("caller %d vector = %v, want [0.5]", i, vecs[i])
		}
	}
}

func TestGetOrComputeCancelledWaiterDoesNotKillFlight(t *testing.T) {
	c := testCache(10, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(context.Context) ([]float32, error) {
		close(started)
		<-release
		return []float32{9}, nil
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(cancelCtx, "shared", compute)
		errCh <- err
	}()

	<-started
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter error = %v, want context.Canceled", err)
	}

	// The flight survives the waiter and populates the cache.
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := c.Get("shared"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("flight result never reached the cache after waiter cancellation")
		case <-time.After(10 * time.Millisecond):
		}
	}

	vec, hit, err := c.GetOrCompute(context.Background(), "shared", constVector([]float32{0}))
	if err != nil || !hit {
		t.Fatalf("follow-up GetOrCompute() = hit %v, err %v; want cache hit", hit, err)
	}
	if !reflect.DeepEqual(vec, []float32{9}) {
		t.Errorf("vector = %v, want the flight's [9]", vec)
	}
}

func TestGetOrComputeTTLExpiry(t *testing.T) {
	c := testCache(10, 30*time.Millisecond)
	ctx := context.Background()

	var calls int32
	compute := func(context.Context) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return []float32{float32(atomic.LoadInt32(&calls))}, nil
	}

	if _, _, err := c.GetOrCompute(ctx, "q", compute); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	vec, hit, err := c.GetOrCompute(ctx, "q", compute)
	if err != nil {
		t.Fatalf("GetOrCompute() after expiry error = %v", err)
	}
	if hit {
		t.Error("hit = true after TTL expiry, want recompute")
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("compute called %d times, want 2 (expiry forces recompute)", n)
	}
	if !reflect.DeepEqual(vec, []float32{2}) {
		t.Errorf("vector = %v, want the recomputed [2]", vec)
	}
}

func TestGetOrComputeError(t *testing.T) {
	c := testCache(10, time.Minute)
	ctx := context.Background()

	wantErr := errors.New("backend down")
	_, _, err := c.GetOrCompute(ctx, "q", func(context.Context) ([]float32, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}

	// Failures are not cached.
	vec, hit, err := c.GetOrCompute(ctx, "q", constVector([]float32{1}))
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if hit {
		t.Error("hit = true after a failed compute, want miss")
	}
	if !reflect.DeepEqual(vec, []float32{1}) {
		t.Errorf("vector = %v, want [1]", vec)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := testCache(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		text := fmt.Sprintf("query %d", i)
		if _, _, err := c.GetOrCompute(ctx, text, constVector([]float32{float32(i)})); err != nil {
			t.Fatalf("GetOrCompute(%q) error = %v", text, err)
		}
	}

	if got := c.Size(); got != 3 {
		t.Errorf("Size() = %d, want 3", got)
	}
	if _, ok := c.Get("query 0"); ok {
		t.Error("oldest entry survived past capacity, want eviction")
	}
	if _, ok := c.Get("query 3"); !ok {
		t.Error("newest entry missing")
	}
}

func TestCachePutAndGet(t *testing.T) {
	c := testCache(10, time.Minute)

	c.Put(context.Background(), "batch text", []float32{4, 5})

	vec, ok := c.Get("batch text")
	if !ok {
		t.Fatal("Get() miss after Put()")
	}
	if !reflect.DeepEqual(vec, []float32{4, 5}) {
		t.Errorf("vector = %v, want [4 5]", vec)
	}

	// Returned vectors are copies; mutating one must not poison the cache.
	vec[0] = 99
	again, _ := c.Get("batch text")
	if again[0] != 4 {
		t.Errorf("cached vector mutated through a returned copy: %v", again)
	}
}

func TestCacheClear(t *testing.T) {
	c := testCache(10, time.Minute)
	c.Put(context.Background(), "a", []float32{1})
	c.Put(context.Background(), "b", []float32{2})

	c.Clear()

	if got := c.Size(); got != 0 {
		t.Errorf("Size() after Clear() = %d, want 0", got)
	}
}

// fakeRemote is an in-memory RemoteStore.
type fakeRemote struct {
	mu   sync.Mutex
	data map[string][]float32
	gets int
	sets int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]float32)}
}

func (f *fakeRemote) Get(_ context.Context, key string) ([]float32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	vec, ok := f.data[key]
	return vec, ok, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, vector []float32, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.data[key] = vector
	return nil
}

func TestCacheRemoteTier(t *testing.T) {
	remote := newFakeRemote()
	c := NewCache(CacheConfig{MaxSize: 10, TTL: time.Minute}, remote, nil)
	ctx := context.Background()

	// A miss computes and writes through to the remote tier.
	if _, _, err := c.GetOrCompute(ctx, "q", constVector([]float32{7})); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if remote.sets != 1 {
		t.Errorf("remote sets = %d, want 1", remote.sets)
	}

	// A cold local cache is refilled from the remote tier without computing.
	cold := NewCache(CacheConfig{MaxSize: 10, TTL: time.Minute}, remote, nil)
	vec, hit, err := cold.GetOrCompute(ctx, "q", func(context.Context) ([]float32, error) {
		t.Error("compute called despite remote hit")
		return nil, errors.New("unreachable")
	})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if !hit {
		t.Error("hit = false, want remote tier hit")
	}
	if !reflect.DeepEqual(vec, []float32{7}) {
		t.Errorf("vector = %v, want [7]", vec)
	}
}

func TestKeyStable(t *testing.T) {
	if Key("abc") != Key("abc") {
		t.Error("Key not stable for identical input")
	}
	if Key("abc") == Key("abd") {
		t.Error("Key collision for different inputs")
	}
}
