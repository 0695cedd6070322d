package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/signalnine/docprobe/internal/remote"
	"github.com/signalnine/docprobe/internal/result"
)

const DefaultCacheDelay = time.Second

// CacheProbe sends the same request twice and reads cached_tokens from both
// responses.
type CacheProbe struct {
	Adapter remote.Adapter
	Delay   time.Duration
	Logger  zerolog.Logger
}

// RunPair calls build twice, sending each request with Delay in between.
// build must return byte-identical requests in the cached part; a body
// mismatch is logged and recorded, not rejected. Set control when no cache
// directive is sent, so zero hits on both calls is the expected outcome.
func (c *CacheProbe) RunPair(ctx context.Context, label string, build func() *remote.Request, control bool) (*result.CacheProbePair, error) {
	delay := c.Delay
	if delay <= 0 {
		delay = DefaultCacheDelay
	}
	log := c.Logger.With().Str("probe", label).Logger()
	pair := &result.CacheProbePair{Label: label, Control: control, StartedAt: time.Now().UTC()}

	firstReq := build()
	pair.Model = firstReq.Model
	first, err := c.Adapter.Send(ctx, firstReq)
	if err != nil {
		return nil, fmt.Errorf("first call: %w", err)
	}
	log.Info().Int("cached_tokens", first.Usage.CachedTokens).Int("prompt_tokens", first.Usage.PromptTokens).Msg("first call")

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	secondReq := build()
	second, err := c.Adapter.Send(ctx, secondReq)
	if err != nil {
		return nil, fmt.Errorf("second call: %w", err)
	}
	log.Info().Int("cached_tokens", second.Usage.CachedTokens).Int("prompt_tokens", second.Usage.PromptTokens).Msg("second call")

	pair.BodiesIdentical = sameCachedBody(firstReq, secondReq)
	if !pair.BodiesIdentical {
		log.Warn().Msg("cacheable part of the request differs between calls; a cache miss is expected")
	}

	pair.First = first.Usage
	pair.Second = second.Usage
	pair.CachedFirst = first.Usage.CachedTokens
	pair.CachedSecond = second.Usage.CachedTokens
	pair.Classification = result.Classify(pair.CachedFirst, pair.CachedSecond, control)
	return pair, nil
}

// sameCachedBody compares the wire bodies with the uncached suffix removed.
func sameCachedBody(a, b *remote.Request) bool {
	ha, ok := cachedBodyHash(a)
	if !ok {
		return false
	}
	hb, ok := cachedBodyHash(b)
	return ok && ha == hb
}

func cachedBodyHash(req *remote.Request) (uint64, bool) {
	trimmed := *req
	trimmed.Options.Suffix = ""
	body, err := remote.Body(&trimmed)
	if err != nil {
		return 0, false
	}
	return xxhash.Sum64(body), true
}
