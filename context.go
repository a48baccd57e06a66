package vfskit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Context resolves addresses into handles. It owns the bounded handle
// cache, the parent table, and the per-site clients and providers.
//
// One mutex guards every map of the Context. Use one Context per session;
// handles of different Contexts never share identity.
type Context struct {
	mu sync.Mutex

	id     string
	cfg    *Config
	log    logrus.FieldLogger
	own    *logrus.Logger
	reg    *Registry
	cache  *handleCache
	closed bool

	// parents maps a child cache key to the cache key of its parent.
	parents   map[string]string
	clients   map[string]*clientRef
	providers map[providerRefKey]*providerRef

	// warned holds the keys passed to WarnOnce.
	warned sync.Map
}

type clientRef struct {
	client Client
	refs   int
}

type providerRefKey struct {
	site string
	kind Kind
}

type providerRef struct {
	provider Provider
	site     Site
	refs     int
}

// Option configures a Context.
type Option func(*Context)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(c *Context) {
		if cfg != nil {
			c.cfg = cfg
		}
	}
}

// WithLogger sets the logger. The session id is added as a field.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Context) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRegistry replaces the default registry.
func WithRegistry(reg *Registry) Option {
	return func(c *Context) {
		if reg != nil {
			c.reg = reg
		}
	}
}

// WithCacheCapacity overrides the configured cache capacity.
func WithCacheCapacity(n int) Option {
	return func(c *Context) {
		cfg := *c.cfg
		cfg.CacheCapacity = n
		c.cfg = &cfg
	}
}

// New creates a Context. Without options it uses DefaultConfig, the default
// registry and the standard logrus logger.
func New(opts ...Option) (*Context, error) {
	c := &Context{
		id:        uuid.NewString(),
		cfg:       DefaultConfig(),
		reg:       defaultRegistry,
		parents:   make(map[string]string),
		clients:   make(map[string]*clientRef),
		providers: make(map[providerRefKey]*providerRef),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := validateConfig(c.cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if c.log == nil {
		c.own = logrus.New()
		if lvl, err := logrus.ParseLevel(c.cfg.LogLevel); err == nil {
			c.own.SetLevel(lvl)
		}
		c.log = c.own
	}
	c.log = c.log.WithField("session", c.id)

	cache, err := newHandleCache(c.cfg.CacheCapacity, c.evict)
	if err != nil {
		return nil, &PathError{Op: "new", Path: "cache", Code: ErrCodeConfiguration, Err: err}
	}
	c.cache = cache
	return c, nil
}

// ID returns the session id of the Context.
func (c *Context) ID() string {
	return c.id
}

// Config returns the active configuration.
func (c *Context) Config() *Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Logger returns the session logger.
func (c *Context) Logger() logrus.FieldLogger {
	return c.log
}

// Resolve parses raw and returns the handle of the address.
func (c *Context) Resolve(ctx context.Context, raw string) (*Handle, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	return c.ResolveAddress(ctx, addr)
}

// ResolveDirectory is like Resolve but with directory intent.
func (c *Context) ResolveDirectory(ctx context.Context, raw string) (*Handle, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	return c.ResolveAddress(ctx, addr.AsDir())
}

// ResolveAddress returns the handle of addr. Every ancestor from the site
// root down is looked up or created on the way, and parent links are
// recorded for each of them.
func (c *Context) ResolveAddress(ctx context.Context, addr Address) (*Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	addr = addr.normalize()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, NewPathError("resolve", addr.Redacted(), ErrCodeDisposed, "context closed")
	}
	if !c.reg.hasProtocol(addr.Protocol()) {
		return nil, NewPathError("resolve", addr.Redacted(), ErrCodeConfiguration,
			fmt.Sprintf("unknown protocol %q", addr.Scheme))
	}

	root := addr
	root.Path = "/"
	h, err := c.lookupOrCreate(ctx, root)
	if err != nil {
		return nil, err
	}

	segs := addr.Segments()
	cur := root
	for i, seg := range segs {
		parentKey := h.key
		cur = cur.Join(seg)
		if i == len(segs)-1 {
			cur = cur.WithDir(addr.IsDir())
		}
		h, err = c.lookupOrCreate(ctx, cur)
		if err != nil {
			return nil, err
		}
		c.parents[h.key] = parentKey
	}
	return h, nil
}

// lookupOrCreate must be called with c.mu held. A lookup of x also matches
// a cached x/ and the other way round, so a normalized file never has two
// live handles.
func (c *Context) lookupOrCreate(ctx context.Context, addr Address) (*Handle, error) {
	key := addr.String()
	if h, ok := c.cache.get(key); ok {
		return h, nil
	}
	if !addr.IsRoot() {
		alt := addr.AsDir()
		if addr.IsDir() {
			alt = addr.AsFile()
		}
		if h, ok := c.cache.get(alt.String()); ok {
			return h, nil
		}
	}

	kind, err := c.reg.detectKind(ctx, addr)
	if err != nil {
		return nil, WrapPathErr("resolve", addr.Redacted(), err)
	}
	ref, pkey, err := c.acquireProvider(ctx, addr.Site(), kind)
	if err != nil {
		return nil, err
	}

	h := newHandle(c, addr, kind, ref.provider, pkey)
	c.cache.put(key, h)
	c.log.WithFields(logrus.Fields{"address": addr.Redacted(), "kind": kind.String()}).Debug("vfs: handle created")
	return h, nil
}

func (c *Context) acquireProvider(ctx context.Context, site Site, kind Kind) (*providerRef, providerRefKey, error) {
	pkey := providerRefKey{site: site.Key(), kind: kind}
	if ref, ok := c.providers[pkey]; ok {
		ref.refs++
		return ref, pkey, nil
	}

	factory, err := c.reg.providerFactory(site.Protocol(), kind)
	if err != nil {
		return nil, pkey, err
	}

	client, err := c.acquireClient(ctx, site)
	if err != nil {
		return nil, pkey, err
	}

	provider, err := factory(ctx, ProviderParams{
		Site:    site,
		Kind:    kind,
		Client:  client,
		Config:  c.cfg,
		Logger:  c.log.WithField("site", site.String()),
		Context: c,
	})
	if err != nil {
		c.releaseClient(site)
		return nil, pkey, WrapPathErr("resolve", site.String(), err)
	}

	ref := &providerRef{provider: provider, site: site, refs: 1}
	c.providers[pkey] = ref
	c.log.WithFields(logrus.Fields{"site": site.String(), "kind": kind.String()}).Debug("vfs: provider created")
	return ref, pkey, nil
}

func (c *Context) acquireClient(ctx context.Context, site Site) (Client, error) {
	key := site.Key()
	if ref, ok := c.clients[key]; ok {
		ref.refs++
		return ref.client, nil
	}

	factory, ok := c.reg.clientFactory(site.Protocol())
	if !ok {
		return nil, nil
	}
	client, err := factory(ctx, ClientParams{
		Site:   site,
		Config: c.cfg,
		Logger: c.log.WithField("site", site.String()),
	})
	if err != nil {
		return nil, WrapPathErr("connect", site.String(), err)
	}
	c.clients[key] = &clientRef{client: client, refs: 1}
	c.log.WithField("site", site.String()).Debug("vfs: client created")
	return client, nil
}

func (c *Context) releaseProvider(pkey providerRefKey) {
	ref, ok := c.providers[pkey]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs > 0 {
		return
	}
	delete(c.providers, pkey)
	if err := ref.provider.Close(); err != nil {
		c.log.WithError(err).WithField("site", ref.site.String()).Warn("vfs: closing provider")
	}
	c.releaseClient(ref.site)
}

func (c *Context) releaseClient(site Site) {
	key := site.Key()
	ref, ok := c.clients[key]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs > 0 {
		return
	}
	delete(c.clients, key)
	if err := ref.client.Close(); err != nil {
		c.log.WithError(err).WithField("site", site.String()).Warn("vfs: closing client")
	}
	c.log.WithField("site", site.String()).Debug("vfs: client closed")
}

// evict is the cache eviction callback. It runs with c.mu held.
func (c *Context) evict(key string, h *Handle) {
	c.log.WithField("address", key).Debug("vfs: handle evicted")
	c.detachLocked(key, h)
}

// detachLocked drops the provider reference and parent link of a handle
// that left the cache. The handle itself stays usable, see revive.
func (c *Context) detachLocked(key string, h *Handle) {
	if !h.markEvicted() {
		return
	}
	delete(c.parents, key)
	c.releaseProvider(h.pkey)
}

// releaseLocked disposes h and drops everything the Context holds for it.
func (c *Context) releaseLocked(key string, h *Handle) {
	if h.markDisposed() != stateLive {
		return
	}
	delete(c.parents, key)
	c.releaseProvider(h.pkey)
}

// revive puts an evicted handle back into the cache with a freshly
// acquired provider. A handle resolved for the same address since the
// eviction is evicted in its place, so the cache keeps one handle per
// address.
func (c *Context) revive(ctx context.Context, h *Handle, op string) (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, NewPathError(op, h.String(), ErrCodeDisposed, "context closed")
	}
	h.mu.Lock()
	state, p, addr := h.state, h.provider, h.addr
	h.mu.Unlock()
	switch state {
	case stateLive:
		return p, nil
	case stateDisposed:
		return nil, h.disposedErr(op)
	}

	keys := []string{h.key}
	if !addr.IsRoot() {
		if addr.IsDir() {
			keys = append(keys, addr.AsFile().String())
		} else {
			keys = append(keys, addr.AsDir().String())
		}
	}
	for _, k := range keys {
		if other, ok := c.cache.peek(k); ok && other != h {
			c.cache.remove(k)
			c.detachLocked(k, other)
		}
	}

	ref, pkey, err := c.acquireProvider(ctx, addr.Site(), h.kind)
	if err != nil {
		return nil, err
	}
	h.pkey = pkey
	h.markLive(ref.provider)
	c.cache.put(h.key, h)
	c.log.WithField("address", addr.Redacted()).Debug("vfs: handle revived")
	return ref.provider, nil
}

// WarnOnce logs msg at warning level the first time key is seen by this
// Context. Providers come and go with the handles that use them, so a
// condition of the whole session is reported here instead of per provider.
func (c *Context) WarnOnce(key string, fields logrus.Fields, msg string) {
	if _, seen := c.warned.LoadOrStore(key, struct{}{}); seen {
		return
	}
	c.log.WithFields(fields).Warn(msg)
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dispose removes h from the cache and releases it. Disposing twice is a no-op.
func (c *Context) Dispose(h *Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache.peek(h.key); ok && cached == h {
		c.cache.remove(h.key)
	}
	c.releaseLocked(h.key, h)
}

// Close disposes every cached handle and closes all providers and clients.
// Closing twice is a no-op.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	for _, h := range c.cache.drain() {
		c.releaseLocked(h.key, h)
	}
	// Handles removed from the cache by re-keying collisions may still hold refs.
	for pkey, ref := range c.providers {
		delete(c.providers, pkey)
		if err := ref.provider.Close(); err != nil {
			c.log.WithError(err).Warn("vfs: closing provider")
		}
	}
	for key, ref := range c.clients {
		delete(c.clients, key)
		if err := ref.client.Close(); err != nil {
			c.log.WithError(err).Warn("vfs: closing client")
		}
	}
	c.parents = make(map[string]string)
	return nil
}

// Parent returns the handle of the enclosing directory of h, or nil for a
// site root. The link is taken from the parent table, and the parent
// address is resolved again when the link or the parent was evicted.
func (c *Context) Parent(ctx context.Context, h *Handle) (*Handle, error) {
	if err := h.check("parent"); err != nil {
		return nil, err
	}
	addr := h.Address()
	parentAddr, ok := addr.Parent()
	if !ok {
		return nil, nil
	}

	c.mu.Lock()
	if pk, ok := c.parents[h.key]; ok {
		if p, ok := c.cache.get(pk); ok {
			c.mu.Unlock()
			return p, nil
		}
	}
	c.mu.Unlock()

	return c.ResolveAddress(ctx, parentAddr)
}

// replaceAddress re-keys h when materialization revealed a canonical
// address that differs from the one it was resolved with. The cache entry
// and parent links move together.
func (c *Context) replaceAddress(h *Handle, addr Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldKey := h.key
	newKey := addr.String()
	if oldKey == newKey {
		return
	}
	if h.isDisposed() {
		return
	}
	if cached, ok := c.cache.peek(oldKey); !ok || cached != h {
		// Evicted while materializing: only the handle moves.
		h.rekey(newKey, addr)
		return
	}

	if other, ok := c.cache.peek(newKey); ok && other != h {
		c.cache.remove(newKey)
		c.detachLocked(newKey, other)
	}

	c.cache.remove(oldKey)
	h.rekey(newKey, addr)
	c.cache.put(newKey, h)

	if pk, ok := c.parents[oldKey]; ok {
		delete(c.parents, oldKey)
		c.parents[newKey] = pk
	}
	for child, pk := range c.parents {
		if pk == oldKey {
			c.parents[child] = newKey
		}
	}
	c.log.WithFields(logrus.Fields{"from": oldKey, "to": addr.Redacted()}).Debug("vfs: handle re-keyed")
}

// Reconfigure applies cfg to the live Context. A smaller cache capacity
// evicts least recently used handles through the normal eviction path.
func (c *Context) Reconfigure(cfg *Config) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	if n := c.cache.resize(cfg.CacheCapacity); n > 0 {
		c.log.WithField("evicted", n).Debug("vfs: cache resized")
	}
	if c.own != nil {
		if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			c.own.SetLevel(lvl)
		}
	}
	return nil
}

// Stats describes the live state of a Context.
type Stats struct {
	Cache     CacheStatistics
	Clients   int
	Providers int
	Parents   int
}

// Stats returns cache statistics and live client and provider counts.
func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Cache:     c.cache.stats(),
		Clients:   len(c.clients),
		Providers: len(c.providers),
		Parents:   len(c.parents),
	}
}

// Cached reports whether a live handle exists for raw, without touching
// recency.
func (c *Context) Cached(raw string) bool {
	addr, err := ParseAddress(raw)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache.peek(addr.String()); ok {
		return true
	}
	_, ok := c.cache.peek(strings.TrimSuffix(addr.String(), "/"))
	if !ok && !addr.IsDir() {
		_, ok = c.cache.peek(addr.AsDir().String())
	}
	return ok
}
