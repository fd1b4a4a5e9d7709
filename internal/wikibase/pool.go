package wikibase

import (
	"errors"
	"fmt"
	"sort"

	"github.com/raphaelgruber/wikibatch/internal/engine"
	"github.com/raphaelgruber/wikibatch/internal/models"
)

// ErrUnknownWikibase is returned for a batch targeting an unregistered site.
var ErrUnknownWikibase = errors.New("unknown wikibase")

// Pool holds one Client per registered knowledge base so property caches
// are shared by all batches targeting it.
type Pool struct {
	defaultID string
	clients   map[string]*Client
}

// NewPool creates clients for every entry. defaultID serves batches that
// name no knowledge base.
func NewPool(defaultID string, sites map[string]Config) *Pool {
	p := &Pool{defaultID: defaultID, clients: make(map[string]*Client, len(sites))}
	for id, cfg := range sites {
		p.clients[id] = New(cfg)
	}
	return p
}

// Client returns the client for id ("" selects the default).
func (p *Pool) Client(id string) (*Client, error) {
	if id == "" {
		id = p.defaultID
	}
	c, ok := p.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWikibase, id)
	}
	return c, nil
}

// Has reports whether id ("" for the default) is registered.
func (p *Pool) Has(id string) bool {
	_, err := p.Client(id)
	return err == nil
}

// IDs lists registered knowledge bases.
func (p *Pool) IDs() []string {
	ids := make([]string, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Adapter implements engine.AdapterFactory.
func (p *Pool) Adapter(b *models.Batch) (engine.Adapter, error) {
	c, err := p.Client(b.Wikibase)
	if err != nil {
		return nil, err
	}
	return c, nil
}
