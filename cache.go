package llmrelay

import (
	"hash/fnv"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/llmrelay/llmrelay/pkg/types"
)

// responseCache memoizes non-streaming chat responses. The key covers every
// request field that can change the completion; streaming requests never
// reach the cache.
type responseCache struct {
	store *gocache.Cache
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		store: gocache.New(ttl, 2*ttl),
	}
}

// cacheKeyFields is the canonical key shape. Provider is included so a
// request pinned to one provider never serves another's cached answer.
type cacheKeyFields struct {
	Provider    string              `json:"provider"`
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

func cacheKey(req *types.ChatRequest) (string, bool) {
	raw, err := types.Marshal(cacheKeyFields{
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return "", false
	}

	h := fnv.New64a()
	h.Write(raw) //nolint:errcheck
	return strconv.FormatUint(h.Sum64(), 16), true
}

func (c *responseCache) get(req *types.ChatRequest) (*types.ChatResponse, bool) {
	key, ok := cacheKey(req)
	if !ok {
		return nil, false
	}
	v, found := c.store.Get(key)
	if !found {
		return nil, false
	}
	resp, ok := v.(*types.ChatResponse)
	return resp, ok
}

func (c *responseCache) put(req *types.ChatRequest, resp *types.ChatResponse) {
	key, ok := cacheKey(req)
	if !ok {
		return
	}
	c.store.Set(key, resp, gocache.DefaultExpiration)
}
