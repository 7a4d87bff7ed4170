package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

// DotEnvLoader reads variables from a .env file. The file is parsed lazily
// on first use and the parsed map is kept for subsequent lookups.
type DotEnvLoader struct {
	Path string

	loaded bool
	vars   map[string]string
}

// NewDotEnvLoader creates a loader for the given .env file path.
func NewDotEnvLoader(path string) *DotEnvLoader {
	return &DotEnvLoader{Path: path}
}

// Load implements Loader.
func (l *DotEnvLoader) Load() (map[string]string, error) {
	if err := l.ensure(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(l.vars))
	for k, v := range l.vars {
		out[k] = v
	}
	return out, nil
}

// Get implements Loader.
func (l *DotEnvLoader) Get(key string) (string, error) {
	if err := l.ensure(); err != nil {
		return "", err
	}
	v, ok := l.vars[key]
	if !ok {
		return "", fmt.Errorf("variable %q not found in %s", key, l.Path)
	}
	return v, nil
}

func (l *DotEnvLoader) ensure() error {
	if l.loaded {
		return nil
	}
	vars, err := godotenv.Read(l.Path)
	if err != nil {
		return fmt.Errorf("could not read env file %s: %w", l.Path, err)
	}
	l.vars = vars
	l.loaded = true
	return nil
}
