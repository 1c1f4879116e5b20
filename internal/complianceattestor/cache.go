package complianceattestor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/otcsettle/controlplane/internal/kvstore"
)

const screeningCacheTTL = 300 * time.Second

type screeningCache struct {
	kv *kvstore.Store
}

func screenKey(k string) string { return "screen:cache:" + k }

func (c *screeningCache) get(ctx context.Context, key string) (ScreeningResult, bool) {
	if c.kv == nil {
		return ScreeningResult{}, false
	}
	raw, ok, err := c.kv.CacheGet(ctx, screenKey(key))
	if err != nil || !ok {
		return ScreeningResult{}, false
	}
	var res ScreeningResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return ScreeningResult{}, false
	}
	return res, true
}

func (c *screeningCache) put(ctx context.Context, key string, res ScreeningResult) {
	if c.kv == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = c.kv.CacheSet(ctx, screenKey(key), string(raw), screeningCacheTTL)
}
