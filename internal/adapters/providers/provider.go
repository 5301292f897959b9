// Package providers holds the signature provider adapters: two remote
// envelope services, a local certificate (eToken) flow and a simple
// image-signature flow, all behind one Adapter interface.
package providers

import (
	"context"
	"fmt"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

type InitiateInput struct {
	SignatureID string
	Document    domain.Document
	Signer      domain.User
	Type        domain.SignatureType
	ReturnURL   string
}

type Initiation struct {
	Status      domain.SignatureStatus
	RedirectURL string
	// ReferenceID is the remote envelope handle; empty for local providers.
	ReferenceID string
	Details     domain.SignatureDetails
}

// StatusReport is a provider's view of a signature. Details are merged into
// the stored bag.
type StatusReport struct {
	Status  domain.SignatureStatus
	Details domain.SignatureDetails
}

// Adapter is the capability set every provider offers.
type Adapter interface {
	Name() domain.Provider
	// Configured reports whether the adapter has what it needs to run.
	Configured() bool
	Initiate(ctx context.Context, in InitiateInput) (Initiation, error)
	CheckStatus(ctx context.Context, sig domain.Signature) (StatusReport, error)
	GetDetails(ctx context.Context, sig domain.Signature) (domain.SignatureDetails, error)
}

// ETokenCompleter finishes a local-certificate signature.
type ETokenCompleter interface {
	CompleteEToken(ctx context.Context, sig domain.Signature, proof ports.ETokenProof) (StatusReport, error)
}

// ImageCompleter finishes a simple image signature.
type ImageCompleter interface {
	CompleteSimple(ctx context.Context, sig domain.Signature, imageData string) (StatusReport, error)
}

// Registry maps provider names to adapters.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Lookup returns the adapter for name.
func (r *Registry) Lookup(name domain.Provider) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %q", domain.ErrProviderUnavailable, name)
	}
	return a, nil
}

// Configured reports whether name is registered and ready.
func (r *Registry) Configured(name domain.Provider) bool {
	a, ok := r.adapters[name]
	return ok && a.Configured()
}

// remoteOrder is the preference order for advanced and qualified signatures.
var remoteOrder = []domain.Provider{domain.ProviderDocuSign, domain.ProviderAdobeSign}

// DefaultProvider applies the selection policy: simple signatures go to the
// image provider; advanced and qualified go to the first configured remote
// provider, falling back to the local certificate provider.
func DefaultProvider(t domain.SignatureType, configured func(domain.Provider) bool) domain.Provider {
	if t == domain.SignatureSimple {
		return domain.ProviderSimple
	}
	for _, p := range remoteOrder {
		if configured(p) {
			return p
		}
	}
	return domain.ProviderEToken
}

// Select resolves the provider for a request. An explicit override wins.
func Select(t domain.SignatureType, override domain.Provider, configured func(domain.Provider) bool) (domain.Provider, error) {
	if override != "" {
		if !override.Valid() {
			return "", fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, override)
		}
		return override, nil
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown signature type %q", domain.ErrInvalidInput, t)
	}
	return DefaultProvider(t, configured), nil
}

func requireContent(doc domain.Document) error {
	if !doc.HasContent() {
		return fmt.Errorf("document %d: %w", doc.ID, domain.ErrDocumentHasNoContent)
	}
	return nil
}
