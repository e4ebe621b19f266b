package provider

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"

	"github.com/litechat/backend/internal/config"
)

// Handle is a resolved (provider, model) pair ready to produce completions.
type Handle struct {
	ProviderID string
	ModelID    string
	Model      model.ChatModel
}

// Registry answers model lookups from cached configuration. Resolution is a
// synchronous indexed lookup; only completion execution touches the network.
type Registry interface {
	Resolve(modelID string) (Handle, bool)
	Default() (Handle, bool)
	List() []Handle
	APIKey(providerID string) (string, bool)
}

// StaticRegistry implements Registry over a fixed handle set built once at
// startup.
type StaticRegistry struct {
	handles map[string]Handle
	order   []string
	keys    map[string]string
}

// NewStaticRegistry indexes the supplied handles by model id. The first
// handle becomes the default; on duplicate model ids the first wins.
func NewStaticRegistry(handles []Handle, keys map[string]string) *StaticRegistry {
	r := &StaticRegistry{
		handles: make(map[string]Handle, len(handles)),
		keys:    make(map[string]string, len(keys)),
	}
	for _, h := range handles {
		if _, exists := r.handles[h.ModelID]; exists {
			continue
		}
		r.handles[h.ModelID] = h
		r.order = append(r.order, h.ModelID)
	}
	for providerID, key := range keys {
		r.keys[providerID] = key
	}
	return r
}

// NewRegistry builds one chat model per configured (provider, model) pair and
// indexes them. Providers without usable credentials are skipped with a log
// line rather than failing startup.
func NewRegistry(ctx context.Context, configs []config.ProviderConfig) (*StaticRegistry, error) {
	var handles []Handle
	keys := make(map[string]string)

	for _, cfg := range configs {
		if !cfg.Enabled() {
			log.Printf("[provider] skipping %s: credentials or models missing", cfg.ID)
			continue
		}
		keys[cfg.ID] = cfg.APIKey
		for _, modelID := range cfg.Models {
			cm, err := cfg.NewChatModel(ctx, modelID)
			if err != nil {
				return nil, fmt.Errorf("provider %s model %s: %w", cfg.ID, modelID, err)
			}
			handles = append(handles, Handle{
				ProviderID: cfg.ID,
				ModelID:    modelID,
				Model:      cm,
			})
		}
	}

	return NewStaticRegistry(handles, keys), nil
}

// Resolve looks up a handle by model id.
func (r *StaticRegistry) Resolve(modelID string) (Handle, bool) {
	h, ok := r.handles[modelID]
	return h, ok
}

// Default returns the first configured handle.
func (r *StaticRegistry) Default() (Handle, bool) {
	if len(r.order) == 0 {
		return Handle{}, false
	}
	return r.handles[r.order[0]], true
}

// List returns all handles in configuration order.
func (r *StaticRegistry) List() []Handle {
	out := make([]Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handles[id])
	}
	return out
}

// APIKey returns the configured key for a provider.
func (r *StaticRegistry) APIKey(providerID string) (string, bool) {
	key, ok := r.keys[providerID]
	return key, ok
}
