package connector

import (
	"fmt"
	"log/slog"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// Builder constructs a connector for one account. creds is the decrypted
// credentials blob; builders reject absent required secrets with
// ErrMissingCredentials so misconfiguration fails at construction time, not
// deep inside a fetch.
type Builder func(account *models.Account, creds string, opts Options, logger *slog.Logger) (Connector, error)

// Registry maps provider kinds to connector builders.
type Registry struct {
	builders map[models.Provider]Builder
	opts     Options
	logger   *slog.Logger
}

// RegistryOption customizes a registry.
type RegistryOption func(*Registry)

// WithBuilder registers (or replaces) the builder for a provider kind.
func WithBuilder(provider models.Provider, builder Builder) RegistryOption {
	return func(r *Registry) {
		r.builders[provider] = builder
	}
}

// NewRegistry builds a registry preloaded with the built-in connectors.
func NewRegistry(logger *slog.Logger, opts Options, options ...RegistryOption) *Registry {
	r := &Registry{
		builders: map[models.Provider]Builder{
			models.ProviderIMAP:      NewIMAPConnector,
			models.ProviderGmail:     NewGmailConnector,
			models.ProviderForge:     NewForgeConnector,
			models.ProviderFeed:      NewFeedConnector,
			models.ProviderSocial:    NewSocialConnector,
			models.ProviderSynthetic: NewSyntheticConnector,
		},
		opts:   opts.withDefaults(),
		logger: logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// ConnectorFor resolves the concrete connector for an account.
func (r *Registry) ConnectorFor(account *models.Account, creds string) (Connector, error) {
	if account.Provider == models.ProviderForward {
		return nil, fmt.Errorf("%w: %s accounts are push-only", ErrUnsupportedProvider, account.Provider)
	}
	builder, ok := r.builders[account.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, account.Provider)
	}
	return builder(account, creds, r.opts, r.logger.With("connector", string(account.Provider), "account_id", account.ID))
}
