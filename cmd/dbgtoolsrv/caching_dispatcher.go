package main

import (
	"context"
	"sync"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/dbgtoolsrv/internal/queue"
	"github.com/hrygo/dbgtoolsrv/internal/resultcache"
)

// cachingDispatcher wraps C5's queue.Manager with C7's result cache: a
// repeated command against the same session short-circuits the queue
// entirely and answers from the cache, while a fresh command's result
// is mirrored into the cache once it completes.
type cachingDispatcher struct {
	inner     *queue.Manager
	cache     *resultcache.Cache
	sessionID func() string

	mu        sync.Mutex
	synthetic map[string]string
}

func newCachingDispatcher(inner *queue.Manager, cache *resultcache.Cache, sessionID func() string) *cachingDispatcher {
	return &cachingDispatcher{
		inner:     inner,
		cache:     cache,
		sessionID: sessionID,
		synthetic: make(map[string]string),
	}
}

func (d *cachingDispatcher) Enqueue(ctx context.Context, text string) (string, error) {
	key := resultcache.Fingerprint(d.sessionID(), text)
	if cached, ok := d.cache.TryGet(key); ok {
		id := "cache-" + shortuuid.New()
		d.mu.Lock()
		d.synthetic[id] = cached
		d.mu.Unlock()
		return id, nil
	}

	id, err := d.inner.Enqueue(ctx, text)
	if err != nil {
		return "", err
	}
	go d.populateOnCompletion(id, key)
	return id, nil
}

// populateOnCompletion waits for id to finish and, on success, mirrors
// its result into the cache under key. Runs detached from the
// request's context: a caller abandoning the poll must not stop the
// cache from learning the eventual result.
func (d *cachingDispatcher) populateOnCompletion(id, key string) {
	result, err := d.inner.GetResult(context.Background(), id)
	if err != nil {
		return
	}
	d.cache.Set(key, result, 0)
}

func (d *cachingDispatcher) Status(id string) (queue.Status, bool) {
	if _, ok := d.syntheticResult(id); ok {
		return queue.Status{ID: id, State: queue.StateCompleted, IsCompleted: true, QueuePosition: -1}, true
	}
	return d.inner.Status(id)
}

func (d *cachingDispatcher) Cancel(id, reason string) bool {
	if _, ok := d.syntheticResult(id); ok {
		return false
	}
	return d.inner.Cancel(id, reason)
}

func (d *cachingDispatcher) CancelAll(reason string) int {
	return d.inner.CancelAll(reason)
}

func (d *cachingDispatcher) List() (*queue.ListEntry, []queue.ListEntry) {
	return d.inner.List()
}

func (d *cachingDispatcher) GetResult(ctx context.Context, id string) (string, error) {
	if result, ok := d.syntheticResult(id); ok {
		return result, nil
	}
	return d.inner.GetResult(ctx, id)
}

func (d *cachingDispatcher) syntheticResult(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	result, ok := d.synthetic[id]
	return result, ok
}
