package leasing

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
)

// QueryStatus is the lifecycle state of a cache entry.
type QueryStatus string

const (
	StatusIdle    QueryStatus = "idle"
	StatusLoading QueryStatus = "loading"
	StatusSuccess QueryStatus = "success"
	StatusError   QueryStatus = "error"
)

// retryDelay separates the transparent retry from the failed attempt.
const retryDelay = 250 * time.Millisecond

// ============================================================================
// Query keys
// ============================================================================

// QueryKey identifies one cached fetch: the resource, the options that
// shape its result, and the token it was fetched under. Two keys with the
// same fields in any option order are the same key. Binding the token into
// the key means a session change strands every old entry rather than
// serving one user's data to another.
type QueryKey struct {
	Resource string
	Options  map[string]any
	Token    string
}

// canonical renders the key with option names sorted, so map iteration
// order never splits one logical key into several entries.
func (k QueryKey) canonical() string {
	names := make([]string, 0, len(k.Options))
	for n := range k.Options {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Resource)
	for _, n := range names {
		fmt.Fprintf(&b, "|%s=%v", n, k.Options[n])
	}
	b.WriteString("|@")
	b.WriteString(k.Token)
	return b.String()
}

// KeyPrefix names a group of keys for invalidation: every entry of the
// resource whose options contain the subset (any token).
type KeyPrefix struct {
	Resource string
	Options  map[string]any
}

// optionsContain reports whether every subset pair appears in opts.
func optionsContain(opts, subset map[string]any) bool {
	for k, want := range subset {
		got, ok := opts[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// ============================================================================
// Cache
// ============================================================================

// Fetcher loads the data for one key.
type Fetcher func(ctx context.Context) (any, error)

// QueryConfig tunes a single Fetch or Subscribe.
type QueryConfig struct {
	// NoRetry disables the single transparent retry. Callers set it for
	// fetches where a second attempt cannot change the outcome, auth
	// probes especially.
	NoRetry bool

	// RefetchInterval enables polling for subscriptions. Each tick
	// refetches regardless of freshness.
	RefetchInterval time.Duration

	// Disabled starts a subscription gated off. See SetEnabled.
	Disabled bool

	// OnSuccess and OnError fire exactly once per settled fetch the
	// caller took part in. Cache hits fire neither.
	OnSuccess func(any)
	OnError   func(error)
}

// QueryResult is the snapshot delivered to subscribers.
type QueryResult struct {
	Data   any
	Status QueryStatus
	Err    error
}

// call is one in-flight fetch. Late callers for the same key wait on done
// instead of issuing a duplicate request.
type call struct {
	done chan struct{}
	data any
	err  error
}

type entry struct {
	status        QueryStatus
	data          any
	err           error
	stale         bool
	lastFetchedAt time.Time
	inflight      *call
}

// Cache is the keyed query store. One instance serves the whole process;
// it is injected, never global. All entry and subscription state is
// serialized by one mutex.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  loggo.Logger
	entries map[string]*entry
	subs    map[*Subscription]struct{}

	// looseKeys maps canonical form back to the structured key, so
	// Invalidate can match entries whose subscriber is long gone.
	looseKeys map[string]QueryKey
}

// NewCache returns an empty cache. A nil clock means wall clock; tests
// inject a testclock to drive polling.
func NewCache(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Cache{
		clock:     clk,
		logger:    loggo.GetLogger("leasing.query"),
		entries:   make(map[string]*entry),
		subs:      make(map[*Subscription]struct{}),
		looseKeys: make(map[string]QueryKey),
	}
}

func (c *Cache) rememberKeyLocked(key QueryKey) {
	c.looseKeys[key.canonical()] = key
}

func (c *Cache) entryLocked(ck string) *entry {
	e, ok := c.entries[ck]
	if !ok {
		e = &entry{status: StatusIdle}
		c.entries[ck] = e
	}
	return e
}

// Fetch resolves the key through the cache. A fresh successful entry is
// returned as-is; a stale or absent one triggers the fetcher, with
// concurrent callers of the same key sharing a single request. Transient
// failures get one transparent retry unless the config or the error kind
// rules it out.
func (c *Cache) Fetch(ctx context.Context, key QueryKey, fetcher Fetcher, cfg QueryConfig) (any, error) {
	return c.fetch(ctx, key, fetcher, cfg, false)
}

func (c *Cache) fetch(ctx context.Context, key QueryKey, fetcher Fetcher, cfg QueryConfig, force bool) (any, error) {
	ck := key.canonical()

	c.mu.Lock()
	c.rememberKeyLocked(key)
	e := c.entryLocked(ck)

	if e.inflight != nil {
		cl := e.inflight
		c.mu.Unlock()
		select {
		case <-cl.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		fireHooks(cfg, cl.data, cl.err)
		return cl.data, cl.err
	}

	if !force && e.status == StatusSuccess && !e.stale {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}

	cl := &call{done: make(chan struct{})}
	e.inflight = cl
	e.status = StatusLoading
	c.mu.Unlock()

	c.logger.Tracef("fetch %s", ck)
	cl.data, cl.err = c.callWithRetry(ctx, fetcher, cfg)

	c.mu.Lock()
	// Only the call the entry still owns may record its result. Reset or
	// a racing writer may have replaced the entry's view meanwhile.
	if cur, ok := c.entries[ck]; ok && cur.inflight == cl {
		cur.inflight = nil
		cur.lastFetchedAt = c.clock.Now()
		if cl.err != nil {
			cur.status = StatusError
			cur.err = cl.err
		} else {
			cur.status = StatusSuccess
			cur.data = cl.data
			cur.err = nil
			cur.stale = false
		}
		c.notifyLocked(ck, QueryResult{Data: cur.data, Status: cur.status, Err: cur.err})
	}
	c.mu.Unlock()
	close(cl.done)

	fireHooks(cfg, cl.data, cl.err)
	return cl.data, cl.err
}

func fireHooks(cfg QueryConfig, data any, err error) {
	if err != nil {
		if cfg.OnError != nil {
			cfg.OnError(err)
		}
		return
	}
	if cfg.OnSuccess != nil {
		cfg.OnSuccess(data)
	}
}

// callWithRetry runs the fetcher with at most one transparent retry.
// Auth and not-found failures never retry; a second attempt cannot
// change those outcomes.
func (c *Cache) callWithRetry(ctx context.Context, fetcher Fetcher, cfg QueryConfig) (any, error) {
	attempts := 2
	if cfg.NoRetry {
		attempts = 1
	}

	var data any
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			data, err = fetcher(ctx)
			return err
		},
		IsFatalError: func(err error) bool {
			if herr, ok := err.(*HTTPError); ok {
				return herr.Status == 401 || herr.Status == 404
			}
			return false
		},
		Attempts: attempts,
		Delay:    retryDelay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		// Surface the fetcher's own error, not the retry wrapper.
		if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) {
			return nil, retry.LastError(err)
		}
		return nil, err
	}
	return data, nil
}

// GetData returns the cached value for the key if it holds a successful
// result, fresh or stale.
func (c *Cache) GetData(key QueryKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.canonical()]
	if !ok || e.status != StatusSuccess {
		return nil, false
	}
	return e.data, true
}

// SetQueryData overwrites the entry with an authoritative value, as after
// a mutation whose response is the updated entity. Subscribers are
// notified as if a fetch had succeeded.
func (c *Cache) SetQueryData(key QueryKey, data any) {
	ck := key.canonical()
	c.mu.Lock()
	c.rememberKeyLocked(key)
	e := c.entryLocked(ck)
	e.status = StatusSuccess
	e.data = data
	e.err = nil
	e.stale = false
	e.lastFetchedAt = c.clock.Now()
	c.notifyLocked(ck, QueryResult{Data: data, Status: StatusSuccess})
	c.mu.Unlock()
}

// Invalidate marks every entry of the resource stale, optionally narrowed
// to entries whose options contain the given subset. Live subscribers of
// a matching key refetch immediately; cold entries refetch on next use.
func (c *Cache) Invalidate(resource string, optsSubset ...map[string]any) {
	var subset map[string]any
	if len(optsSubset) > 0 {
		subset = optsSubset[0]
	}

	c.mu.Lock()
	for ck, e := range c.entries {
		key, ok := c.keyForLocked(ck)
		if !ok {
			continue
		}
		if key.Resource != resource || !optionsContain(key.Options, subset) {
			continue
		}
		e.stale = true
	}
	var refetch []*Subscription
	for sub := range c.subs {
		if sub.key.Resource == resource && optionsContain(sub.key.Options, subset) && sub.enabled && !sub.closed {
			refetch = append(refetch, sub)
		}
	}
	c.mu.Unlock()

	c.logger.Debugf("invalidated %s (%d live subscribers)", resource, len(refetch))
	for _, sub := range refetch {
		go sub.refetch()
	}
}

// InvalidatePrefix is Invalidate in declared form, for mutation configs.
func (c *Cache) InvalidatePrefix(p KeyPrefix) {
	if p.Options == nil {
		c.Invalidate(p.Resource)
		return
	}
	c.Invalidate(p.Resource, p.Options)
}

// keyForLocked recovers the structured key for a canonical entry key.
func (c *Cache) keyForLocked(ck string) (QueryKey, bool) {
	k, ok := c.looseKeys[ck]
	return k, ok
}

// Reset evicts every entry, typically on logout. Subscriptions stay
// registered; whatever they fetch next lands in a clean store.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.looseKeys = make(map[string]QueryKey)
	c.mu.Unlock()
	c.logger.Debugf("cache reset")
}

func (c *Cache) notifyLocked(ck string, res QueryResult) {
	for sub := range c.subs {
		if sub.closed || sub.key.canonical() != ck {
			continue
		}
		select {
		case sub.updates <- res:
		default:
			// A slow consumer drops intermediate snapshots, never blocks
			// the cache.
		}
	}
}

// ============================================================================
// Subscriptions
// ============================================================================

// Subscription is a live interest in one key. Updates carries each settled
// result; Close stops polling and guarantees no further delivery.
type Subscription struct {
	cache   *Cache
	ctx     context.Context
	key     QueryKey
	fetcher Fetcher
	cfg     QueryConfig
	updates chan QueryResult
	stop    chan struct{}
	enabled bool
	closed  bool
}

// Subscribe registers interest in a key and, unless disabled, starts an
// initial fetch. With RefetchInterval set, a poll loop refetches on every
// tick while the subscription is enabled.
func (c *Cache) Subscribe(ctx context.Context, key QueryKey, fetcher Fetcher, cfg QueryConfig) *Subscription {
	sub := &Subscription{
		cache:   c,
		ctx:     ctx,
		key:     key,
		fetcher: fetcher,
		cfg:     cfg,
		updates: make(chan QueryResult, 16),
		stop:    make(chan struct{}),
		enabled: !cfg.Disabled,
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.rememberKeyLocked(key)
	enabled := sub.enabled
	c.mu.Unlock()

	if enabled {
		go func() {
			_, _ = c.fetch(ctx, key, fetcher, cfg, false)
		}()
	}
	if cfg.RefetchInterval > 0 {
		go sub.pollLoop()
	}
	return sub
}

// Updates delivers one QueryResult per settled fetch or SetQueryData on
// the subscription's key.
func (s *Subscription) Updates() <-chan QueryResult {
	return s.updates
}

// SetEnabled gates the subscription. Polls tick only while enabled, and a
// false-to-true transition fetches immediately so the consumer is not left
// waiting a full interval.
func (s *Subscription) SetEnabled(enabled bool) {
	s.cache.mu.Lock()
	was := s.enabled
	s.enabled = enabled && !s.closed
	now := s.enabled
	s.cache.mu.Unlock()

	if now && !was {
		go s.refetch()
	}
}

// Close detaches the subscription. The poll timer stops and no further
// update is delivered.
func (s *Subscription) Close() {
	s.cache.mu.Lock()
	if s.closed {
		s.cache.mu.Unlock()
		return
	}
	s.closed = true
	s.enabled = false
	delete(s.cache.subs, s)
	s.cache.mu.Unlock()
	close(s.stop)
}

// refetch bypasses freshness. Poll ticks and invalidation both land here.
func (s *Subscription) refetch() {
	s.cache.mu.Lock()
	ok := s.enabled && !s.closed
	s.cache.mu.Unlock()
	if !ok {
		return
	}
	_, _ = s.cache.fetch(s.ctx, s.key, s.fetcher, s.cfg, true)
}

func (s *Subscription) pollLoop() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.ctx.Done():
			return
		case <-s.cache.clock.After(s.cfg.RefetchInterval):
			s.refetch()
		}
	}
}
