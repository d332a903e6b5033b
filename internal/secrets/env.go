package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"onboarder/pkg/platform/sentinel"
)

// EnvStore reads secret documents from environment variables. The variable
// name is SECRET_<NAME> with the secret name uppercased and punctuation
// mapped to underscores; the value is a JSON object of string fields.
type EnvStore struct{}

func NewEnvStore() *EnvStore { return &EnvStore{} }

func (s *EnvStore) Get(_ context.Context, name string) (map[string]string, error) {
	key := "SECRET_" + envKey(name)
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, fmt.Errorf("secret %s: %w", name, sentinel.ErrNotFound)
	}

	doc := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	return doc, nil
}

func envKey(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return mapped
}

// StaticStore serves fixed documents. Used in tests and for wiring the
// queue-disabled development mode.
type StaticStore struct {
	Docs map[string]map[string]string
}

func (s *StaticStore) Get(_ context.Context, name string) (map[string]string, error) {
	doc, ok := s.Docs[name]
	if !ok {
		return nil, fmt.Errorf("secret %s: %w", name, sentinel.ErrNotFound)
	}
	return doc, nil
}
