// Package connector proxies model operations to a remote service exposing the
// same model contract. Every operation returns a Future and can also deliver
// its outcome to a callback passed with Done.
package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/R3E-Network/remote_connector/internal/logging"
	"github.com/R3E-Network/remote_connector/remote/dispatch"
	"github.com/R3E-Network/remote_connector/remote/model"
	"github.com/R3E-Network/remote_connector/remote/registry"
	"github.com/R3E-Network/remote_connector/remote/resolver"
	"github.com/R3E-Network/remote_connector/remote/transport"
)

// Settings configures a connector.
type Settings struct {
	// URL is the root of the remote REST API, e.g. http://127.0.0.1:3000/api.
	URL string
	// Options is an arbitrary bag surfaced by RemoteOptions.
	Options map[string]any
	// Transport configures the HTTP client; its URL defaults to URL.
	Transport transport.Config
	// Client replaces the HTTP client entirely.
	Client transport.Transport
	Logger *logging.Logger
	// LogLevel is used when Logger is nil.
	LogLevel string
}

// Connector binds models to one remote service. Declared object types and
// resolved operations are scoped to the connector.
type Connector struct {
	options    map[string]any
	transport  transport.Transport
	registry   *registry.Registry
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	log        *logging.Logger

	mu     sync.RWMutex
	descs  map[string]model.Descriptor
	models map[string]*Model
}

// New creates a connector.
func New(s Settings) (*Connector, error) {
	log := s.Logger
	if log == nil {
		level := s.LogLevel
		if level == "" {
			level = "info"
		}
		log = logging.New("connector", level)
	}

	t := s.Client
	if t == nil {
		cfg := s.Transport
		if cfg.URL == "" {
			cfg.URL = s.URL
		}
		if cfg.Logger == nil {
			cfg.Logger = log
		}
		client, err := transport.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		t = client
	}

	return &Connector{
		options:    s.Options,
		transport:  t,
		registry:   registry.New(t, log),
		resolver:   resolver.New(),
		dispatcher: dispatch.New(t, log),
		log:        log,
		descs:      make(map[string]model.Descriptor),
		models:     make(map[string]*Model),
	}, nil
}

// Define attaches a model to the connector: its operations are resolved and
// its object type, and those of every already defined related model, are
// declared to the transport. Defining the same name again returns the model
// defined first.
func (c *Connector) Define(d model.Descriptor) (*Model, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if m, ok := c.models[d.Name]; ok {
		c.mu.Unlock()
		return m, nil
	}
	m := &Model{conn: c, desc: d, ops: c.resolver.Resolve(d)}
	c.descs[d.Name] = d
	c.models[d.Name] = m
	c.mu.Unlock()

	declared := c.registry.RegisterGraph(d, c.lookup)
	c.log.Entry().WithField("model", d.Name).WithField("declared", declared).Debug("model defined")
	return m, nil
}

// DefineAll defines every model of a manifest.
func (c *Connector) DefineAll(m *model.Manifest) error {
	for _, d := range m.Models {
		if _, err := c.Define(d); err != nil {
			return fmt.Errorf("define %s: %w", d.Name, err)
		}
	}
	return nil
}

func (c *Connector) lookup(name string) (model.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descs[name]
	return d, ok
}

// Model returns a defined model.
func (c *Connector) Model(name string) (*Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDefined, name)
	}
	return m, nil
}

// modelFor returns the defined model of name, or an undeclared stand-in so
// records of models never defined here can still be addressed.
func (c *Connector) modelFor(name string) *Model {
	if m, err := c.Model(name); err == nil {
		return m
	}
	d := model.Descriptor{Name: name}
	return &Model{conn: c, desc: d, ops: resolver.Resolve(d)}
}

// Models returns the names of the defined models, sorted.
func (c *Connector) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.models))
	for n := range c.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RemoteOptions returns the options bag the connector was configured with.
func (c *Connector) RemoteOptions() map[string]any {
	return c.options
}

// Registry returns the object type registry of the connector.
func (c *Connector) Registry() *registry.Registry {
	return c.registry
}

// Transport returns the transport the connector dispatches through.
func (c *Connector) Transport() transport.Transport {
	return c.transport
}
