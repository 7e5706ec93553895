package application

import (
	"sync"

	"github.com/ericfisherdev/snapgate/internal/domain/model"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

// RemoteClientProvider caches one visual-diff client per project. A cached
// client is reused while the project's base URL and token are unchanged and
// rebuilt transparently when they differ, so credential updates take effect
// without restarting.
type RemoteClientProvider struct {
	factory driven.VisualDiffClientFactory

	mu      sync.RWMutex
	clients map[string]cachedClient
}

type cachedClient struct {
	baseURL string
	token   string
	client  driven.VisualDiffClient
}

// NewRemoteClientProvider creates a provider that builds clients with factory.
func NewRemoteClientProvider(factory driven.VisualDiffClientFactory) *RemoteClientProvider {
	return &RemoteClientProvider{
		factory: factory,
		clients: make(map[string]cachedClient),
	}
}

// Get returns the client for project, creating it on first use.
func (p *RemoteClientProvider) Get(project model.Project) driven.VisualDiffClient {
	p.mu.RLock()
	cached, ok := p.clients[project.ID]
	p.mu.RUnlock()
	if ok && cached.baseURL == project.RemoteBaseURL && cached.token == project.Token {
		return cached.client
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have rebuilt it while the lock was released.
	if cached, ok := p.clients[project.ID]; ok && cached.baseURL == project.RemoteBaseURL && cached.token == project.Token {
		return cached.client
	}

	client := p.factory.New(project.RemoteBaseURL, project.Token)
	p.clients[project.ID] = cachedClient{baseURL: project.RemoteBaseURL, token: project.Token, client: client}
	return client
}

// Probe returns an uncached client for credentials that are not yet stored.
func (p *RemoteClientProvider) Probe(baseURL, token string) driven.VisualDiffClient {
	return p.factory.New(baseURL, token)
}

// Invalidate drops the cached client of a project.
func (p *RemoteClientProvider) Invalidate(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, projectID)
}

// Len returns the number of cached clients.
func (p *RemoteClientProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
