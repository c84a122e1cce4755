package secrets

import "os"

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// MapLoader returns a Loader over a fixed map restricted to keys.
// Empty values are omitted.
func MapLoader(m map[string]string, keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := m[k]; v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders override earlier ones.
// Use Chain(MapLoader(yaml...), EnvLoader(...)) so the environment wins.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string)
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range vals {
				out[k] = v
			}
		}
		return out, nil
	}
}
