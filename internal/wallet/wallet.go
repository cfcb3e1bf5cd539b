// Package wallet holds the contracts this plugin consumes from its payment
// and credential collaborators. Key management, on-disk persistence, and the
// signing proxy's routing live in their own processes; only these interfaces
// matter here.
package wallet

import (
	"context"
	"fmt"
)

// Signer signs payment challenges with the plugin operator's wallet key.
type Signer interface {
	// Sign returns the signature over message.
	Sign(ctx context.Context, message []byte) ([]byte, error)
	// Address returns the wallet address the signatures verify against.
	Address() string
}

// PaymentAuthorizer is the contract the local HTTP-to-socket signing proxy
// fulfils for the translators: turn a broker payment challenge into the
// header value to attach to the backend request.
type PaymentAuthorizer interface {
	AuthorizeHeader(ctx context.Context, challenge []byte) (string, error)
}

// CredentialSource resolves which model this plugin serves and mints the
// short-lived API key used to call the backend for it.
type CredentialSource interface {
	Provider() string
	ModelID() string
	APIKey(ctx context.Context) (string, error)
}

// StaticCredentials is a CredentialSource backed by fixed configuration.
type StaticCredentials struct {
	ProviderName string
	Model        string
	Key          string
}

// NewStaticCredentials validates and wraps configured credentials. An
// unresolvable model is a startup-fatal condition, not a per-request error.
func NewStaticCredentials(provider, model, key string) (*StaticCredentials, error) {
	if model == "" {
		return nil, fmt.Errorf("no model configured for provider %q", provider)
	}
	return &StaticCredentials{ProviderName: provider, Model: model, Key: key}, nil
}

func (s *StaticCredentials) Provider() string { return s.ProviderName }

func (s *StaticCredentials) ModelID() string { return s.Model }

func (s *StaticCredentials) APIKey(ctx context.Context) (string, error) {
	return s.Key, nil
}
