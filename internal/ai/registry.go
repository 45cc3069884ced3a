package ai

import (
	"context"
	"fmt"
)

// Registry maps provider ids to configured clients. Built once at startup
// from the available API keys; read-only afterwards.
type Registry struct {
	clients map[Provider]Client
}

// NewRegistry builds a registry from the configured API keys. Providers
// without a key are simply absent.
func NewRegistry(anthropicKey, openAIKey string) *Registry {
	clients := make(map[Provider]Client)

	if anthropicKey != "" {
		clients[ProviderAnthropic] = NewAnthropicClient(anthropicKey)
	}
	if openAIKey != "" {
		clients[ProviderOpenAI] = NewOpenAIClient(openAIKey)
	}

	return &Registry{clients: clients}
}

// NewRegistryWithClients builds a registry from explicit clients. Used by
// tests to inject scripted providers.
func NewRegistryWithClients(clients map[Provider]Client) *Registry {
	return &Registry{clients: clients}
}

// Client returns the client for a provider id.
func (r *Registry) Client(provider Provider) (Client, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("provider not configured: %s", provider)
	}
	return client, nil
}

// Has reports whether a provider is configured.
func (r *Registry) Has(provider Provider) bool {
	_, ok := r.clients[provider]
	return ok
}

// Stats returns usage statistics for all configured providers.
func (r *Registry) Stats() map[Provider]*ProviderStats {
	stats := make(map[Provider]*ProviderStats, len(r.clients))
	for provider, client := range r.clients {
		stats[provider] = client.Stats()
	}
	return stats
}

// HealthCheck probes every configured provider and returns per-provider
// reachability.
func (r *Registry) HealthCheck(ctx context.Context) map[Provider]bool {
	status := make(map[Provider]bool, len(r.clients))
	for provider, client := range r.clients {
		status[provider] = client.Health(ctx) == nil
	}
	return status
}
