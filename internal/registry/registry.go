// Package registry maps page ids to the credentials and handler configured
// for each page.
//
// A Registry is built once at startup and treated as read-only afterwards.
// Register is not safe to call concurrently with Lookup; Lookup is safe for
// any number of concurrent readers once construction is complete.
package registry

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/config"
	"github.com/fpang/messenger-gateway/internal/handler"
)

// Page is the configuration bound to one page id.
type Page struct {
	ID          string
	AccessToken string
	Handler     handler.Handler
	Kind        handler.Kind
}

// Credentials returns the credentials handed to the page's handler.
func (p Page) Credentials() handler.Credentials {
	return handler.Credentials{PageID: p.ID, AccessToken: p.AccessToken}
}

// Registry holds the pages the gateway serves.
type Registry struct {
	pages map[string]Page
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{pages: make(map[string]Page)}
}

// Register binds pageID to accessToken and h. Registering an id again
// replaces the earlier binding.
func (r *Registry) Register(pageID, accessToken string, h handler.Handler) {
	r.RegisterPage(Page{ID: pageID, AccessToken: accessToken, Handler: h})
}

// RegisterPage is Register with the full Page value.
func (r *Registry) RegisterPage(p Page) {
	if _, exists := r.pages[p.ID]; exists {
		log.Warn().Str("pageId", p.ID).Msg("Page registered twice, later registration wins")
	}
	r.pages[p.ID] = p
}

// Lookup returns the page bound to pageID.
func (r *Registry) Lookup(pageID string) (Page, bool) {
	p, ok := r.pages[pageID]
	return p, ok
}

// Len returns the number of registered pages.
func (r *Registry) Len() int {
	return len(r.pages)
}

// IDs returns the registered page ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.pages))
	for id := range r.pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Kinds returns page id -> handler kind, for startup logging.
func (r *Registry) Kinds() map[string]string {
	kinds := make(map[string]string, len(r.pages))
	for id, p := range r.pages {
		kinds[id] = string(p.Kind)
	}
	return kinds
}

// Load builds a registry from configured pages, constructing each page's
// handler from deps. Any handler that cannot be built fails the whole load.
func Load(pages []config.PageConfig, deps handler.Deps) (*Registry, error) {
	r := New()
	for i, pc := range pages {
		h, err := handler.Build(handler.Spec{
			Kind:         handler.Kind(pc.Handler),
			Prefix:       pc.Prefix,
			EventBus:     pc.EventBus,
			SystemPrompt: pc.SystemPrompt,
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("page %d (%s): %w", i, pc.ID, err)
		}
		r.RegisterPage(Page{
			ID:          pc.ID,
			AccessToken: pc.AccessToken,
			Handler:     h,
			Kind:        handler.Kind(pc.Handler),
		})
		log.Debug().Str("pageId", pc.ID).Str("handler", pc.Handler).Msg("Page registered")
	}
	return r, nil
}
