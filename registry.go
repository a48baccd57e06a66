package vfskit

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Client owns the transport connection for one site. It is shared by every
// provider of that site.
type Client interface {
	Close() error
}

// ClientParams is passed to a ClientFactory.
type ClientParams struct {
	Site   Site
	Config *Config
	Logger logrus.FieldLogger
}

// ClientFactory creates the Client of a site.
type ClientFactory func(ctx context.Context, p ClientParams) (Client, error)

// ProviderParams is passed to a ProviderFactory. Client is nil for
// protocols that register no client factory.
type ProviderParams struct {
	Site    Site
	Kind    Kind
	Client  Client
	Config  *Config
	Logger  logrus.FieldLogger
	Context *Context
}

// ProviderFactory creates the provider of a (site, kind).
type ProviderFactory func(ctx context.Context, p ProviderParams) (Provider, error)

// KindDetector classifies an address of one protocol.
type KindDetector func(ctx context.Context, addr Address) (Kind, error)

type providerKey struct {
	protocol Protocol
	kind     Kind
}

// Registry maps protocols to client and provider constructors.
type Registry struct {
	mu        sync.RWMutex
	clients   map[Protocol]ClientFactory
	providers map[providerKey]ProviderFactory
	detectors map[Protocol]KindDetector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[Protocol]ClientFactory),
		providers: make(map[providerKey]ProviderFactory),
		detectors: make(map[Protocol]KindDetector),
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry populated by driver init functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterProvider registers a provider factory in the default registry.
func RegisterProvider(protocol Protocol, kind Kind, factory ProviderFactory) {
	defaultRegistry.RegisterProvider(protocol, kind, factory)
}

// RegisterClient registers a client factory in the default registry.
func RegisterClient(protocol Protocol, factory ClientFactory) {
	defaultRegistry.RegisterClient(protocol, factory)
}

// RegisterKindDetector registers a kind detector in the default registry.
func RegisterKindDetector(protocol Protocol, detector KindDetector) {
	defaultRegistry.RegisterKindDetector(protocol, detector)
}

// RegisterProvider registers a provider factory for (protocol, kind).
func (r *Registry) RegisterProvider(protocol Protocol, kind Kind, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[providerKey{protocol: protocol, kind: kind}] = factory
}

// RegisterClient registers the client factory of a protocol.
func (r *Registry) RegisterClient(protocol Protocol, factory ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[protocol] = factory
}

// RegisterKindDetector registers the kind detector of a protocol.
func (r *Registry) RegisterKindDetector(protocol Protocol, detector KindDetector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[protocol] = detector
}

// Protocols returns the protocols that have at least one provider.
func (r *Registry) Protocols() []Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Protocol]bool)
	var out []Protocol
	for k := range r.providers {
		if !seen[k.protocol] {
			seen[k.protocol] = true
			out = append(out, k.protocol)
		}
	}
	return out
}

func (r *Registry) hasProtocol(protocol Protocol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.providers {
		if k.protocol == protocol {
			return true
		}
	}
	return false
}

func (r *Registry) detectKind(ctx context.Context, addr Address) (Kind, error) {
	r.mu.RLock()
	detector, ok := r.detectors[addr.Protocol()]
	r.mu.RUnlock()
	if !ok {
		return KindFile, nil
	}
	return detector(ctx, addr)
}

func (r *Registry) clientFactory(protocol Protocol) (ClientFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.clients[protocol]
	return f, ok
}

func (r *Registry) providerFactory(protocol Protocol, kind Kind) (ProviderFactory, error) {
	r.mu.RLock()
	f, ok := r.providers[providerKey{protocol: protocol, kind: kind}]
	r.mu.RUnlock()
	if !ok {
		return nil, &PathError{
			Op:   "resolve",
			Path: string(protocol),
			Code: ErrCodeConfiguration,
			Err:  fmt.Errorf("no provider registered for protocol %q and kind %s", protocol, kind),
		}
	}
	return f, nil
}
