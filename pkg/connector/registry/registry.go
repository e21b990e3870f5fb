// Package registry maps source and sink type names to factories. Connector
// packages register themselves from init, so a binary picks up exactly the
// connectors it imports.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
	"github.com/ajitpratap0/nebula-sheets/pkg/logger"
)

// Registry manages connector registration and instantiation
type Registry struct {
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
	info    map[string]*ConnectorInfo
	mu      sync.RWMutex
	logger  *zap.Logger
}

// SourceFactory creates a source from the connector configuration. ctx bounds
// any setup the source performs (consumer creation, broker dial).
type SourceFactory func(ctx context.Context, cfg *config.ConnectorConfig, logger *zap.Logger) (core.Source, error)

// SinkFactory creates a sink from the connector configuration. Sinks do not
// touch the network until Connect.
type SinkFactory func(cfg *config.ConnectorConfig, logger *zap.Logger) (core.Sink, error)

// ConnectorInfo describes a registered connector for listings.
type ConnectorInfo struct {
	core.ConnectorMetadata
	Capabilities []string `json:"capabilities"`
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
		info:    make(map[string]*ConnectorInfo),
		logger:  logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source connector factory
func (r *Registry) RegisterSource(name string, factory SourceFactory, info *ConnectorInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "source connector %s already registered", name)
	}

	r.sources[name] = factory
	r.addInfo(name, core.ConnectorTypeSource, info)
	r.logger.Debug("source connector registered", zap.String("name", name))
	return nil
}

// RegisterSink registers a sink connector factory
func (r *Registry) RegisterSink(name string, factory SinkFactory, info *ConnectorInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "sink connector %s already registered", name)
	}

	r.sinks[name] = factory
	r.addInfo(name, core.ConnectorTypeSink, info)
	r.logger.Debug("sink connector registered", zap.String("name", name))
	return nil
}

func (r *Registry) addInfo(name string, typ core.ConnectorType, info *ConnectorInfo) {
	if info == nil {
		info = &ConnectorInfo{}
	}
	info.Name = name
	info.Type = typ
	r.info[string(typ)+"/"+name] = info
}

// CreateSource creates the source selected by cfg.Source.Type
func (r *Registry) CreateSource(ctx context.Context, cfg *config.ConnectorConfig, logger *zap.Logger) (core.Source, error) {
	name := cfg.Source.Type
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "source connector %s not found", name)
	}

	source, err := factory(ctx, cfg, logger)
	if err != nil {
		// keep config errors typed as such; anything else is a source failure
		if errors.IsType(err, errors.ErrorTypeConfig) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to create source connector").
			WithDetail("type", name)
	}
	return source, nil
}

// CreateSink creates the sink selected by cfg.Type
func (r *Registry) CreateSink(cfg *config.ConnectorConfig, logger *zap.Logger) (core.Sink, error) {
	name := cfg.Type
	r.mu.RLock()
	factory, exists := r.sinks[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "sink connector %s not found", name)
	}

	sink, err := factory(cfg, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create sink connector").
			WithDetail("type", name)
	}
	return sink, nil
}

// ListSources returns registered source names, sorted
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// ListSinks returns registered sink names, sorted
func (r *Registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sinks)
}

// List returns the metadata of every registered connector, sources first.
func (r *Registry) List() []*ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*ConnectorInfo, 0, len(r.info))
	for _, name := range sortedKeys(r.sources) {
		infos = append(infos, r.info[string(core.ConnectorTypeSource)+"/"+name])
	}
	for _, name := range sortedKeys(r.sinks) {
		infos = append(infos, r.info[string(core.ConnectorTypeSink)+"/"+name])
	}
	return infos
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(name string, factory SourceFactory, info *ConnectorInfo) error {
	return globalRegistry.RegisterSource(name, factory, info)
}

// RegisterSink registers a sink connector in the global registry
func RegisterSink(name string, factory SinkFactory, info *ConnectorInfo) error {
	return globalRegistry.RegisterSink(name, factory, info)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
