// Package prefixcache implements the distributed prefix cache (spec.md
// §4.2, §6.4): a durable, best-effort key-value surface over prompt
// fingerprints, backed by Redis. Grounded on
// original_source/cache/global_prefix_cache.py.
package prefixcache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Entry is the metadata stored for one fingerprint.
type Entry struct {
	Meta  map[string]any
	TS    float64
	Tier  string
	Nodes []string
	Hits  int64
}

// RedisClient is the subset of go-redis's *redis.Client this package
// calls, narrowed to a local interface so tests can supply a fake
// rather than a real server (mirrors the ocx-backend example's
// RedisClient seam).
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HIncrBy(ctx context.Context, key string, field string, incr int64) *redis.IntCmd
}

// Cache is the Redis-backed prefix cache.
type Cache struct {
	client RedisClient
}

// New wraps an existing go-redis client (or RedisClient-compatible fake).
func New(client RedisClient) *Cache {
	return &Cache{client: client}
}

// NewFromURL dials Redis at url, matching original_source's
// redis.Redis.from_url(url).
func NewFromURL(url string) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return New(redis.NewClient(opt)), nil
}

func key(fp []byte) string {
	return "pf:" + hex.EncodeToString(fp)
}

// Put upserts an entry for fp, stamping ts=now. If nodeID is non-empty
// the node set is set to {nodeID} (additional nodes accrue only via
// RegisterNode — spec.md §4.2). Backend errors are swallowed: the cache
// is a best-effort accelerator (spec.md §7, CacheBackendError).
func (c *Cache) Put(ctx context.Context, fp []byte, meta map[string]any, nodeID, tier string) {
	if tier == "" {
		tier = "hbm"
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		logrus.WithError(err).Debug("prefixcache: marshal meta failed")
		return
	}

	fields := []any{
		"meta", string(metaJSON),
		"ts", strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', -1, 64),
		"tier", tier,
	}
	if nodeID != "" {
		nodesJSON, _ := json.Marshal([]string{nodeID})
		fields = append(fields, "nodes", string(nodesJSON))
	}

	if err := c.client.HSet(ctx, key(fp), fields...).Err(); err != nil {
		logrus.WithError(err).WithField("key", key(fp)).Debug("prefixcache: put failed")
	}
}

// Get returns the current entry for fp, or (Entry{}, false) on a miss or
// any backend error — both are treated identically, per spec.md §4.2
// ("must return nil on backend error, treated as a miss, never a
// crash"). A successful hit atomically increments the hit counter.
func (c *Cache) Get(ctx context.Context, fp []byte) (Entry, bool) {
	k := key(fp)
	raw, err := c.client.HGetAll(ctx, k).Result()
	if err != nil {
		logrus.WithError(err).WithField("key", k).Debug("prefixcache: get failed")
		return Entry{}, false
	}
	if len(raw) == 0 {
		return Entry{}, false
	}

	entry := Entry{Tier: raw["tier"]}
	if m, ok := raw["meta"]; ok {
		_ = json.Unmarshal([]byte(m), &entry.Meta)
	}
	if n, ok := raw["nodes"]; ok {
		_ = json.Unmarshal([]byte(n), &entry.Nodes)
	}
	if ts, ok := raw["ts"]; ok {
		entry.TS, _ = strconv.ParseFloat(ts, 64)
	}
	if hits, ok := raw["hits"]; ok {
		entry.Hits, _ = strconv.ParseInt(hits, 10, 64)
	}

	if err := c.client.HIncrBy(ctx, k, "hits", 1).Err(); err != nil {
		logrus.WithError(err).WithField("key", k).Debug("prefixcache: hit-counter increment failed")
	}
	return entry, true
}

// RegisterNode adds nodeID to fp's node set by union, not overwrite —
// resolving spec.md §9's open question in favor of union: repeated
// registrations from distinct nodes must all be remembered, since the
// whole point of the node set is "every node currently holding this
// prefix warm". We read-modify-write rather than relying on a Redis set
// type so the wire format (a JSON array field) stays exactly as
// documented in spec.md §6.4.
func (c *Cache) RegisterNode(ctx context.Context, fp []byte, nodeID string) {
	k := key(fp)
	raw, err := c.client.HGetAll(ctx, k).Result()
	if err != nil {
		logrus.WithError(err).WithField("key", k).Debug("prefixcache: register-node read failed")
		return
	}

	var nodes []string
	if n, ok := raw["nodes"]; ok {
		_ = json.Unmarshal([]byte(n), &nodes)
	}
	if !contains(nodes, nodeID) {
		nodes = append(nodes, nodeID)
	}

	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return
	}
	if err := c.client.HSet(ctx, k, "nodes", string(nodesJSON)).Err(); err != nil {
		logrus.WithError(err).WithField("key", k).Debug("prefixcache: register-node write failed")
	}
}

// DemoteToHost spills fp's current entry into host's durable table and
// marks the Redis entry's tier as "host" (SPEC_FULL.md §4.2b). It is a
// manual trigger an operator or an EvictionPolicy.SelectForDemotion pass
// invokes per candidate — spec.md §9 commits only to exposing the
// eviction cost formula, not to running a background reaper.
func (c *Cache) DemoteToHost(ctx context.Context, fp []byte, host *HostTier) error {
	entry, ok := c.Get(ctx, fp)
	if !ok {
		return fmt.Errorf("prefixcache: no entry for fingerprint, nothing to demote")
	}
	entry.Tier = "host"
	if err := host.Demote(ctx, fp, entry); err != nil {
		return fmt.Errorf("prefixcache: demote to host tier: %w", err)
	}
	if err := c.client.HSet(ctx, key(fp), "tier", "host").Err(); err != nil {
		logrus.WithError(err).WithField("key", key(fp)).Debug("prefixcache: tier update failed")
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

