package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type mapStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttl    time.Duration
	getErr error
	setErr error
}

func newMapStore() *mapStore {
	return &mapStore{data: map[string][]byte{}}
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return nil, errMiss
	}
	return v, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	s.ttl = ttl
	return nil
}

func TestGetOrComputeStoresThenHits(t *testing.T) {
	s := newMapStore()
	cache := newCache(s, time.Minute)
	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"bank_tx":0.9}`), nil
	}

	data, hit, err := cache.GetOrCompute(context.Background(), "csv|fecha,importe", compute)
	if err != nil || hit || string(data) != `{"bank_tx":0.9}` {
		t.Fatalf("first call: data=%s hit=%v err=%v", data, hit, err)
	}
	data, hit, err = cache.GetOrCompute(context.Background(), "csv|fecha,importe", compute)
	if err != nil || !hit || string(data) != `{"bank_tx":0.9}` {
		t.Fatalf("second call: data=%s hit=%v err=%v", data, hit, err)
	}
	if calls != 1 || s.ttl != time.Minute {
		t.Fatalf("calls=%d ttl=%v", calls, s.ttl)
	}
	if hits, _ := cache.Stats(); hits != 1 {
		t.Fatalf("expected one hit, got %d", hits)
	}
}

func TestGetOrComputeDegradesOnStoreErrors(t *testing.T) {
	s := newMapStore()
	s.getErr = errors.New("connection refused")
	s.setErr = errors.New("connection refused")
	cache := newCache(s, time.Minute)

	data, hit, err := cache.GetOrCompute(context.Background(), "k", func(context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	if err != nil || hit || string(data) != "v" {
		t.Fatalf("data=%s hit=%v err=%v", data, hit, err)
	}
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	cache := newCache(newMapStore(), time.Minute)
	boom := errors.New("boom")
	if _, _, err := cache.GetOrCompute(context.Background(), "k", func(context.Context) ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	cache := newCache(newMapStore(), time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := cache.GetOrCompute(context.Background(), "k", compute); err != nil {
				t.Errorf("GetOrCompute() error = %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected a single compute, got %d", calls.Load())
	}
}

func TestUnreachableRedisActsAsMiss(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	cache := New(client, time.Minute)

	data, hit, err := cache.GetOrCompute(context.Background(), "k", func(context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	if err != nil || hit || string(data) != "v" {
		t.Fatalf("data=%s hit=%v err=%v", data, hit, err)
	}
}
