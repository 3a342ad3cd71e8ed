package auth

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// ossRDBMSScope is the audience for Azure Database for PostgreSQL flexible
// server token exchange.
const ossRDBMSScope = "https://ossrdbms-aad.database.windows.net/.default"

// ManagedIdentitySource exchanges a managed identity for a database access
// token. It replaces the password in the connection descriptor.
type ManagedIdentitySource struct {
	cred  *azidentity.ManagedIdentityCredential
	scope string
}

// NewManagedIdentitySource builds a token source for the given user-assigned
// managed identity client ID. An empty clientID selects the system-assigned
// identity.
func NewManagedIdentitySource(clientID string) (*ManagedIdentitySource, error) {
	var opts *azidentity.ManagedIdentityCredentialOptions
	if clientID != "" {
		opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(clientID)}
	}

	cred, err := azidentity.NewManagedIdentityCredential(opts)
	if err != nil {
		return nil, fmt.Errorf("creating managed identity credential: %w", err)
	}

	return &ManagedIdentitySource{cred: cred, scope: ossRDBMSScope}, nil
}

// Token implements TokenSource by requesting a fresh access token from the
// instance metadata service.
func (s *ManagedIdentitySource) Token(ctx context.Context) (Credential, error) {
	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{s.scope}})
	if err != nil {
		return Credential{}, fmt.Errorf("requesting access token: %w", err)
	}

	return Credential{Token: tok.Token, ExpiresAt: tok.ExpiresOn}, nil
}
