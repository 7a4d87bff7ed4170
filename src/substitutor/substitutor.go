// Package substitutor resolves ${NAME} and $NAME placeholders in call
// template fields from a layered set of variable sources.
package substitutor

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/toolmux/toolmux/src/errs"
)

var placeholderRe = regexp.MustCompile(`\${(\w+)}|\$(\w+)`)

// Loader is a fallback variable source consulted after the client-level
// variables map (e.g. a dotenv file).
type Loader interface {
	Get(key string) (string, error)
}

// Sources is the layered set of variable bindings a substitutor resolves
// against: client variables first, then loaders in order, then the process
// environment.
type Sources struct {
	Variables map[string]string
	Loaders   []Loader
}

// Substitutor resolves placeholders in nested maps, lists, and strings.
type Substitutor interface {
	// Substitute deep-copies obj with every placeholder resolved. namespace,
	// when non-empty, scopes lookups to a manual (see NamespacePrefix).
	Substitute(obj any, src Sources, namespace string) (any, error)

	// FindRequiredVariables lists the fully-qualified variable names obj
	// references.
	FindRequiredVariables(obj any, namespace string) []string
}

// DefaultSubstitutor is the standard implementation.
//
// Lookup order for a placeholder NAME under manual namespace ns:
//  1. "<prefix>NAME" where prefix doubles every underscore of ns
//     ("my_api" → "my__api_"), probed against variables, loaders, env;
//  2. bare "NAME", probed against the same chain.
//
// A placeholder with no match anywhere fails with VariableNotFoundError.
type DefaultSubstitutor struct{}

// NewDefaultSubstitutor returns a DefaultSubstitutor.
func NewDefaultSubstitutor() *DefaultSubstitutor {
	return &DefaultSubstitutor{}
}

// NamespacePrefix returns the variable prefix for a manual name. Doubling
// the underscores keeps manual names that themselves contain the separator
// unambiguous.
func NamespacePrefix(namespace string) string {
	return strings.ReplaceAll(namespace, "_", "__") + "_"
}

func validNamespace(namespace string) error {
	for _, c := range namespace {
		if c != '_' && !('a' <= c && c <= 'z') && !('A' <= c && c <= 'Z') && !('0' <= c && c <= '9') {
			return fmt.Errorf("variable namespace %q contains invalid characters; only alphanumerics and underscores are allowed", namespace)
		}
	}
	return nil
}

func lookupChain(key string, src Sources) (string, bool) {
	if v, ok := src.Variables[key]; ok {
		return v, true
	}
	for _, loader := range src.Loaders {
		if v, err := loader.Get(key); err == nil && v != "" {
			return v, true
		}
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	return "", false
}

func (s *DefaultSubstitutor) getVariable(key string, src Sources, namespace string) (string, error) {
	if namespace != "" {
		if v, ok := lookupChain(NamespacePrefix(namespace)+key, src); ok {
			return v, nil
		}
	}
	if v, ok := lookupChain(key, src); ok {
		return v, nil
	}
	return "", &errs.VariableNotFoundError{VariableName: key}
}

// Substitute implements Substitutor.
func (s *DefaultSubstitutor) Substitute(obj any, src Sources, namespace string) (any, error) {
	if err := validNamespace(namespace); err != nil {
		return nil, err
	}
	return s.walk(obj, src, namespace)
}

func (s *DefaultSubstitutor) walk(obj any, src Sources, namespace string) (any, error) {
	switch v := obj.(type) {
	case string:
		var firstErr error
		out := placeholderRe.ReplaceAllStringFunc(v, func(match string) string {
			g := placeholderRe.FindStringSubmatch(match)
			name := g[1]
			if name == "" {
				name = g[2]
			}
			val, err := s.getVariable(name, src, namespace)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return match
			}
			return val
		})
		if firstErr != nil {
			return nil, firstErr
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			sub, err := s.walk(e, src, namespace)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			sub, err := s.walk(e, src, namespace)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, e := range v {
			sub, err := s.walk(e, src, namespace)
			if err != nil {
				return nil, err
			}
			out[k] = sub.(string)
		}
		return out, nil
	default:
		return obj, nil
	}
}

// FindRequiredVariables implements Substitutor.
func (s *DefaultSubstitutor) FindRequiredVariables(obj any, namespace string) []string {
	var out []string
	prefix := ""
	if namespace != "" {
		prefix = NamespacePrefix(namespace)
	}
	var scan func(any)
	scan = func(obj any) {
		switch v := obj.(type) {
		case string:
			for _, g := range placeholderRe.FindAllStringSubmatch(v, -1) {
				name := g[1]
				if name == "" {
					name = g[2]
				}
				out = append(out, prefix+name)
			}
		case []any:
			for _, e := range v {
				scan(e)
			}
		case map[string]any:
			for _, e := range v {
				scan(e)
			}
		case map[string]string:
			for _, e := range v {
				scan(e)
			}
		}
	}
	scan(obj)
	return out
}
