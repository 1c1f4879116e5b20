package policysnapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/otcsettle/controlplane/internal/kvstore"
)

const cacheTTL = time.Hour

// cache is the write-through index over Repository described in §3's
// Ownership paragraph and §5's "Shared resources": stale reads are
// acceptable for lookups, warmed on miss, never authoritative. It lives in
// the KV store, so every process using the same KV store shares it.
type cache struct {
	kv *kvstore.Store
}

func versionKey(v string) string { return "policy:snapshot:version:" + v }
func hashKey(h string) string    { return "policy:snapshot:hash:" + h }
func activeKey() string          { return "policy:active" }

func (c *cache) getByVersion(ctx context.Context, version string) (*Snapshot, bool, error) {
	if c.kv == nil {
		return nil, false, nil
	}
	raw, ok, err := c.kv.CacheGet(ctx, versionKey(version))
	if err != nil || !ok {
		return nil, false, err
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *cache) warmSnapshot(ctx context.Context, s *Snapshot) {
	if c.kv == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = c.kv.CacheSet(ctx, versionKey(s.PolicyVersion), string(raw), cacheTTL)
	_ = c.kv.CacheSet(ctx, hashKey(s.PolicyHash), s.PolicyVersion, cacheTTL)
}

func (c *cache) getByHash(ctx context.Context, hash string) (string, bool, error) {
	if c.kv == nil {
		return "", false, nil
	}
	return c.kv.CacheGet(ctx, hashKey(hash))
}

func (c *cache) getActive(ctx context.Context) (*ActiveMapping, bool, error) {
	if c.kv == nil {
		return nil, false, nil
	}
	raw, ok, err := c.kv.CacheGet(ctx, activeKey())
	if err != nil || !ok {
		return nil, false, err
	}
	var m ActiveMapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, false, nil
	}
	return &m, true, nil
}

func (c *cache) warmActive(ctx context.Context, m *ActiveMapping) {
	if c.kv == nil {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	_ = c.kv.CacheSet(ctx, activeKey(), string(raw), cacheTTL)
}

func (c *cache) invalidateActive(ctx context.Context) {
	if c.kv == nil {
		return
	}
	_ = c.kv.Del(ctx, activeKey())
}
