// ABOUTME: TTL-gated read-through cache of conversation summaries
// ABOUTME: Concurrent per-conversation fetches, all-or-nothing replacement, periodic driver

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/2389/relaydesk/internal/provider"
)

const (
	// DefaultCacheTTL is how long a refresh stays fresh.
	DefaultCacheTTL = 60 * time.Second

	// DefaultMaxConcurrentFetches bounds in-flight per-conversation detail fetches.
	DefaultMaxConcurrentFetches = 8

	// DefaultRefreshTimeout bounds one refresh, independent of its callers.
	DefaultRefreshTimeout = 30 * time.Second
)

// Summary is the denormalized view of one conversation.
type Summary struct {
	SID             string     `json:"sid"`
	FriendlyName    string     `json:"friendlyName"`
	PhoneNumber     string     `json:"phoneNumber"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	LastMessage     string     `json:"lastMessage"`
	LastMessageTime *time.Time `json:"lastMessageTime"`
}

// Cache holds the current conversation snapshot.
type Cache struct {
	provider       provider.Provider
	ttl            time.Duration
	maxConcurrent  int
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu            sync.RWMutex
	conversations []Summary
	lastUpdate    time.Time
	generation    uint64

	flight singleflight.Group

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the refresh interval.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxConcurrentFetches bounds concurrent detail fetches during a refresh.
func WithMaxConcurrentFetches(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates an empty cache. Pass nil logger for default.
func NewCache(p provider.Provider, logger *slog.Logger, opts ...CacheOption) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		provider:       p,
		ttl:            DefaultCacheTTL,
		maxConcurrent:  DefaultMaxConcurrentFetches,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		logger:         logger.With("component", "conversation-cache"),
		conversations:  []Summary{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the refresh interval.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Conversations returns a copy of the current snapshot in provider order.
func (c *Cache) Conversations() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// LastUpdate returns when the snapshot was last replaced (zero if never).
func (c *Cache) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Invalidate marks the snapshot stale so the next UpdateCache refreshes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.lastUpdate = time.Time{}
	c.generation++
	c.mu.Unlock()
}

// UpdateCache refreshes the snapshot unless it is still within its TTL.
// On failure the snapshot and its timestamp are left as they were and the
// error is returned.
func (c *Cache) UpdateCache(ctx context.Context) error {
	if c.fresh(c.now()) {
		return nil
	}
	return c.refresh(ctx)
}

func (c *Cache) fresh(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastUpdate.IsZero() && now.Sub(c.lastUpdate) <= c.ttl
}

// refresh runs one ungated refresh, coalescing with any already in flight.
// The shared fetch is detached from the caller that started it and bounded by
// DefaultRefreshTimeout; each caller stops waiting when its own ctx is done.
func (c *Cache) refresh(ctx context.Context) error {
	ch := c.flight.DoChan("refresh", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		startedAt := c.now()
		c.mu.RLock()
		gen := c.generation
		c.mu.RUnlock()

		summaries, err := c.fetchAll(ctx)
		if err != nil {
			c.logger.Error("conversation cache refresh failed",
				append([]any{"op", "updateCache"}, provider.LogAttrs(err)...)...)
			return nil, err
		}

		c.mu.Lock()
		c.conversations = summaries
		// An Invalidate during the fetch keeps the snapshot stale.
		if c.generation == gen {
			c.lastUpdate = startedAt
		}
		c.mu.Unlock()

		c.logger.Debug("conversation cache refreshed", "conversations", len(summaries))
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *Cache) fetchAll(ctx context.Context) ([]Summary, error) {
	records, err := c.provider.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	summaries := make([]Summary, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for i, rec := range records {
		g.Go(func() error {
			s, err := c.summarize(gctx, rec)
			if err != nil {
				return err
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// summarize builds one Summary from a conversation record and its details.
func (c *Cache) summarize(ctx context.Context, rec provider.Conversation) (Summary, error) {
	attrs, err := ParseAttributes(rec.Attributes)
	if err != nil {
		c.logger.Error("failed to parse conversation attributes",
			"conversation_sid", rec.SID, "error", err)
		return Summary{}, fmt.Errorf("conversation %s: %w", rec.SID, err)
	}

	var (
		participants []provider.Participant
		messages     []provider.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		participants, err = c.provider.ListParticipants(gctx, rec.SID)
		if err != nil {
			return fmt.Errorf("conversation %s: listing participants: %w", rec.SID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		messages, err = c.provider.ListMessages(gctx, rec.SID, provider.ListMessagesOptions{
			Limit: 1,
			Order: provider.OrderDesc,
		})
		if err != nil {
			return fmt.Errorf("conversation %s: listing messages: %w", rec.SID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	s := Summary{
		SID:          rec.SID,
		FriendlyName: rec.FriendlyName,
		Email:        attrs.Email,
		Name:         attrs.Name,
	}
	if len(participants) > 0 {
		s.PhoneNumber = participants[0].Address
	}
	if len(messages) > 0 {
		s.LastMessage = messages[0].Body
		s.LastMessageTime = messages[0].DateCreated
	}
	return s, nil
}

// SearchConversations returns cached summaries whose phone number, email,
// name or friendly name contains query, case-insensitively, in cache order.
// An empty query matches everything.
func (c *Cache) SearchConversations(query string) []Summary {
	q := strings.ToLower(query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]Summary, 0, len(c.conversations))
	for _, s := range c.conversations {
		if q == "" || matchesQuery(s, q) {
			matches = append(matches, s)
		}
	}
	return matches
}

func matchesQuery(s Summary, q string) bool {
	for _, field := range []string{s.PhoneNumber, s.Email, s.Name, s.FriendlyName} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Start refreshes immediately and then once per TTL until Stop or ctx is done.
// Errors are logged and swallowed. Calling Start while running is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go c.run(ctx, done)
	c.logger.Info("conversation cache refresher started", "ttl", c.ttl)
}

// Stop halts the periodic refresher and waits for it to exit. Safe to call
// repeatedly; Start may be called again afterwards.
func (c *Cache) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.logger.Info("conversation cache refresher stopped")
}

// Running reports whether the periodic refresher is active.
func (c *Cache) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

// run refreshes without the freshness gate; the ticker is the TTL.
func (c *Cache) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	_ = c.refresh(ctx)

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.refresh(ctx)
		}
	}
}
