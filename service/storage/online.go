package storage

import (
	"context"
	"fmt"
	"time"

	"PPNotify/logger"
	"PPNotify/module/feed/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ===== 配置 =====
type OnlineConfig struct {
	NodeID        string        // 节点ID（参与key命名）
	TTL           time.Duration // session key lifetime, renewed by Refresh
	ChannelName   string        // presence events are published here when non-empty
	UseClusterTag bool          // align user keys on one cluster slot
	Timeout       time.Duration // per-call budget for observer callbacks
}

func (c *OnlineConfig) norm() {
	if c.NodeID == "" {
		c.NodeID = "node-0"
	}
	if c.TTL <= 0 {
		c.TTL = 90 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 500 * time.Millisecond
	}
}

// ===== Lua 脚本 =====

// KEYS[1] = user index key
// ARGV[1] = session key
// 返回：1=删掉了会话键；0=会话键不存在（幂等）
const luaOfflineOne = `
local userZ = KEYS[1]
local kAuth = ARGV[1]
local existed = redis.call("DEL", kAuth)
redis.call("ZREM", userZ, kAuth)
return existed
`

// KEYS[1] = user index key
// ARGV[1] = nowUnix
// 返回：数组 [在线标志(0/1), 数量]，顺带清理过期成员
const luaIsOnline = `
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])

local victims = redis.call("ZRANGEBYSCORE", userZ, "-inf", now)
for _, v in ipairs(victims) do
  redis.call("ZREM", userZ, v)
  redis.call("DEL", v)
end

local cnt = redis.call("ZCOUNT", userZ, now + 1, "+inf")
if cnt > 0 then
  return {1, cnt}
else
  return {0, 0}
end
`

// KEYS[1] = user index key
// KEYS[2] = session key
// ARGV[1] = ttlSec
// ARGV[2] = expAt
// 返回：1 续期成功；0 会话键已不存在
const luaHeartbeat = `
local zUser  = KEYS[1]
local kConn  = KEYS[2]
local ttlSec = tonumber(ARGV[1])
local expAt  = tonumber(ARGV[2])

if redis.call('EXISTS', kConn) == 0 then
  return 0
end
redis.call('EXPIRE', kConn, ttlSec)
redis.call('ZADD', zUser, expAt, kConn)
redis.call('EXPIRE', zUser, ttlSec * 2)
return 1
`

// OnlineStore mirrors live sessions into Redis so other processes can see
// who is connected. It is a session observer: failures are logged and never
// affect admission.
type OnlineStore struct {
	conf OnlineConfig
	rdb  redis.UniversalClient

	luaOfflineOne *redis.Script
	luaIsOnline   *redis.Script
	luaHeartbeat  *redis.Script
}

func NewOnlineStore(rdb redis.UniversalClient, conf OnlineConfig) *OnlineStore {
	conf.norm()
	return &OnlineStore{
		conf:          conf,
		rdb:           rdb,
		luaOfflineOne: redis.NewScript(luaOfflineOne),
		luaIsOnline:   redis.NewScript(luaIsOnline),
		luaHeartbeat:  redis.NewScript(luaHeartbeat),
	}
}

// ===== Key 构造 =====

// UseClusterTag=true: n:{<node>:<user>}:ep:<addr:port>
// false:              n:<node>:ep:<addr:port>:u:<user>
func (m *OnlineStore) sessionKey(user string, ep model.Endpoint) string {
	if m.conf.UseClusterTag {
		return fmt.Sprintf("n:{%s:%s}:ep:%s", m.conf.NodeID, user, ep)
	}
	return fmt.Sprintf("n:%s:ep:%s:u:%s", m.conf.NodeID, ep, user)
}

// 用户索引ZSET（member=会话key, score=expireAtUnix）
func (m *OnlineStore) userIndexKey(user string) string {
	if m.conf.UseClusterTag {
		return fmt.Sprintf("nidx:{%s:%s}", m.conf.NodeID, user)
	}
	return fmt.Sprintf("nidx:%s:u:%s", m.conf.NodeID, user)
}

func (m *OnlineStore) rejectKey() string {
	return fmt.Sprintf("nrej:%s", m.conf.NodeID)
}

// Online records ep as a live session of user.
func (m *OnlineStore) Online(ctx context.Context, user string, ep model.Endpoint) error {
	sKey := m.sessionKey(user, ep)
	zKey := m.userIndexKey(user)
	expAt := time.Now().Add(m.conf.TTL).Unix()

	pipe := m.rdb.TxPipeline()
	pipe.SetEx(ctx, sKey, "1", m.conf.TTL)
	pipe.ZAdd(ctx, zKey, redis.Z{Score: float64(expAt), Member: sKey})
	pipe.Expire(ctx, zKey, m.conf.TTL*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	m.publish(ctx, "ONLINE", sKey)
	return nil
}

// Offline removes one session; it reports whether the key still existed.
func (m *OnlineStore) Offline(ctx context.Context, user string, ep model.Endpoint) (bool, error) {
	sKey := m.sessionKey(user, ep)
	rc, err := m.luaOfflineOne.Run(ctx, m.rdb, []string{m.userIndexKey(user)}, sKey).Int64()
	if err != nil {
		return false, err
	}
	if rc == 1 {
		m.publish(ctx, "OFFLINE", sKey)
	}
	return rc == 1, nil
}

// Refresh renews the TTL of every session in sessions and reports how many
// keys were still present.
func (m *OnlineStore) Refresh(ctx context.Context, sessions map[string][]model.Endpoint) (int, error) {
	expAt := time.Now().Add(m.conf.TTL).Unix()
	ttl := int64(m.conf.TTL / time.Second)
	renewed := 0
	for user, eps := range sessions {
		for _, ep := range eps {
			rc, err := m.luaHeartbeat.Run(ctx, m.rdb,
				[]string{m.userIndexKey(user), m.sessionKey(user, ep)}, ttl, expAt).Int64()
			if err != nil {
				return renewed, err
			}
			if rc == 1 {
				renewed++
			} else if err := m.Online(ctx, user, ep); err != nil {
				return renewed, err
			}
		}
	}
	return renewed, nil
}

// IsOnline reports whether user has a live session on this node.
func (m *OnlineStore) IsOnline(ctx context.Context, user string) (online bool, count int64, err error) {
	vals, err := m.luaIsOnline.Run(ctx, m.rdb, []string{m.userIndexKey(user)}, time.Now().Unix()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(vals) < 2 {
		return false, 0, nil
	}
	return vals[0] == 1, vals[1], nil
}

// Rejections returns the admission rejection count per user.
func (m *OnlineStore) Rejections(ctx context.Context) (map[string]string, error) {
	return m.rdb.HGetAll(ctx, m.rejectKey()).Result()
}

// RunRefresher renews the sessions returned by list every interval until ctx
// ends.
func (m *OnlineStore) RunRefresher(ctx context.Context, interval time.Duration, list func() map[string][]model.Endpoint) {
	if interval <= 0 {
		interval = m.conf.TTL / 3
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := m.Refresh(ctx, list()); err != nil && ctx.Err() == nil {
				logger.Warn("presence refresh failed", zap.Error(err))
			}
		}
	}
}

func (m *OnlineStore) publish(ctx context.Context, event, key string) {
	if m.conf.ChannelName == "" {
		return
	}
	_ = m.rdb.Publish(ctx, m.conf.ChannelName, event+":"+key).Err()
}

// ---- session.Observer ----

func (m *OnlineStore) SessionStarted(user string, ep model.Endpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), m.conf.Timeout)
	defer cancel()
	if err := m.Online(ctx, user, ep); err != nil {
		logger.Warn("presence online failed", zap.String("user", user), zap.Stringer("endpoint", ep), zap.Error(err))
	}
}

func (m *OnlineStore) SessionClosed(user string, ep model.Endpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), m.conf.Timeout)
	defer cancel()
	if _, err := m.Offline(ctx, user, ep); err != nil {
		logger.Warn("presence offline failed", zap.String("user", user), zap.Stringer("endpoint", ep), zap.Error(err))
	}
}

func (m *OnlineStore) SessionRejected(user string, ep model.Endpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), m.conf.Timeout)
	defer cancel()
	if err := m.rdb.HIncrBy(ctx, m.rejectKey(), user, 1).Err(); err != nil {
		logger.Warn("presence reject count failed", zap.String("user", user), zap.Error(err))
	}
}
