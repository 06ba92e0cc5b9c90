package natsx

import (
	"context"
	"strings"
	"sync"
	"time"
)

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// MemIdem is a single-process IdemStore. Expired keys are swept once a
// minute until Close.
type MemIdem struct {
	mu   sync.Mutex
	m    map[string]int64 // key -> expireUnixNano
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
	now  func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) *MemIdem {
	mi := &MemIdem{m: make(map[string]int64), ttl: defaultTTL, stop: make(chan struct{}), now: time.Now}
	go mi.sweep()
	return mi
}

func (mi *MemIdem) sweep() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-mi.stop:
			return
		case <-t.C:
			now := mi.now().UnixNano()
			mi.mu.Lock()
			for k, exp := range mi.m {
				if exp <= now {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}
}

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if old, ok := mi.m[key]; ok && old > now.UnixNano() {
		return true, nil
	}
	mi.m[key] = now.Add(ttl).UnixNano()
	return false, nil
}

// Forget drops key so the next SeenOnce reports it as new.
func (mi *MemIdem) Forget(key string) {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
}

func (mi *MemIdem) Close() {
	mi.once.Do(func() { close(mi.stop) })
}

// ----- 从消息头提取 msgID -----
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// NatsxIdemMiddleware skips messages whose id was already handled within ttl.
// Messages without an id fall back to subject plus body. A failed message is
// forgotten again when the store supports it, so a retry is not swallowed.
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			seen, _ := store.SeenOnce(id, ttl)
			if seen {
				return nil
			}
			err := next(ctx, msg)
			if err != nil {
				if f, ok := store.(interface{ Forget(string) }); ok {
					f.Forget(id)
				}
			}
			return err
		}
	}
}
