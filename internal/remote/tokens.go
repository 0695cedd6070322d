package remote

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// MinCacheableTokens is the smallest prompt prefix most providers will cache.
const MinCacheableTokens = 1024

// DefaultEncodingLoadTimeout bounds the first load of the BPE ranks.
const DefaultEncodingLoadTimeout = 5 * time.Second

// TokenCounter estimates prompt sizes with cl100k_base. tiktoken-go fetches
// the BPE file over the network on first use unless it is already in
// TIKTOKEN_CACHE_DIR. That fetch is bounded by LoadTimeout. On timeout or
// load error the counter falls back to one token per four bytes for the rest
// of its life.
type TokenCounter struct {
	LoadTimeout time.Duration

	once    sync.Once
	encoder *tiktoken.Tiktoken
	load    func() (*tiktoken.Tiktoken, error)
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{LoadTimeout: DefaultEncodingLoadTimeout}
}

func (tc *TokenCounter) Count(text string) int {
	tc.once.Do(tc.loadEncoder)
	if tc.encoder == nil {
		return estimateTokens(text)
	}
	return len(tc.encoder.Encode(text, nil, nil))
}

func (tc *TokenCounter) loadEncoder() {
	load := tc.load
	if load == nil {
		load = func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding("cl100k_base") }
	}
	timeout := tc.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultEncodingLoadTimeout
	}

	done := make(chan *tiktoken.Tiktoken, 1)
	go func() {
		enc, err := load()
		if err != nil {
			enc = nil
		}
		done <- enc
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case enc := <-done:
		tc.encoder = enc
	case <-timer.C:
	}
}

func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
