package config

import "context"

// SecretProvider resolves _SSM_PARAM pointers to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every path it could
	// resolve. Paths it could not find are omitted from the map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
