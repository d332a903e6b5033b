package placement

import (
	"context"
	"fmt"

	"onboarder/internal/secrets"
	dErrors "onboarder/pkg/domain-errors"
)

// mappingField is the key inside the secret document that holds the mapping
// body (YAML or JSON).
const mappingField = "mapping"

// SecretSource loads the placement mapping from the secret store on each
// request. Freshness versus fetch cost is the cache decorator's concern.
type SecretSource struct {
	store  secrets.Store
	secret string
}

func NewSecretSource(store secrets.Store, secretName string) (*SecretSource, error) {
	if store == nil {
		return nil, fmt.Errorf("secret store is nil")
	}
	if secretName == "" {
		return nil, fmt.Errorf("mapping secret name is empty")
	}
	return &SecretSource{store: store, secret: secretName}, nil
}

func (s *SecretSource) Mapping(ctx context.Context) (*Mapping, error) {
	doc, err := s.store.Get(ctx, s.secret)
	if err != nil {
		return nil, fmt.Errorf("load placement mapping %s: %w", s.secret, err)
	}
	body, ok := doc[mappingField]
	if !ok || body == "" {
		return nil, dErrors.Newf(dErrors.CodeConfiguration, "placement mapping secret %s has no %q field", s.secret, mappingField)
	}
	return ParseMapping([]byte(body))
}
