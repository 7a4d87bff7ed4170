package substitutor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/toolmux/toolmux/src/errs"
)

type mapLoader map[string]string

func (m mapLoader) Get(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("not found: %s", key)
}

func TestSubstituteBracedAndBare(t *testing.T) {
	s := NewDefaultSubstitutor()
	src := Sources{Variables: map[string]string{"KEY": "abc", "HOST": "example.com"}}

	out, err := s.Substitute(map[string]any{
		"url":    "https://${HOST}/v1",
		"header": "Bearer $KEY",
	}, src, "")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	m := out.(map[string]any)
	if m["url"] != "https://example.com/v1" {
		t.Fatalf("unexpected url: %v", m["url"])
	}
	if m["header"] != "Bearer abc" {
		t.Fatalf("unexpected header: %v", m["header"])
	}
}

func TestSubstituteNamespacedBeforeBare(t *testing.T) {
	s := NewDefaultSubstitutor()
	src := Sources{Variables: map[string]string{
		"my__api_TOKEN": "scoped",
		"TOKEN":         "global",
	}}

	out, err := s.Substitute("${TOKEN}", src, "my_api")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if out != "scoped" {
		t.Fatalf("expected namespaced value, got %v", out)
	}

	// Without a namespaced binding the bare key serves as fallback.
	out, err = s.Substitute("${TOKEN}", Sources{Variables: map[string]string{"TOKEN": "global"}}, "my_api")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if out != "global" {
		t.Fatalf("expected global fallback, got %v", out)
	}
}

func TestNamespacePrefixDoublesUnderscores(t *testing.T) {
	if got := NamespacePrefix("my_api"); got != "my__api_" {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if got := NamespacePrefix("plain"); got != "plain_" {
		t.Fatalf("unexpected prefix: %q", got)
	}
}

func TestSubstituteLoaderFallback(t *testing.T) {
	s := NewDefaultSubstitutor()
	src := Sources{
		Variables: map[string]string{},
		Loaders:   []Loader{mapLoader{"FROM_FILE": "loaded"}},
	}
	out, err := s.Substitute("${FROM_FILE}", src, "")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if out != "loaded" {
		t.Fatalf("unexpected value: %v", out)
	}
}

func TestSubstituteEnvFallback(t *testing.T) {
	t.Setenv("SUBST_TEST_ENV_VAR", "from-env")
	s := NewDefaultSubstitutor()
	out, err := s.Substitute("${SUBST_TEST_ENV_VAR}", Sources{}, "")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if out != "from-env" {
		t.Fatalf("unexpected value: %v", out)
	}
}

func TestSubstituteVariablesWinOverEnv(t *testing.T) {
	t.Setenv("SUBST_PRECEDENCE", "env")
	s := NewDefaultSubstitutor()
	src := Sources{Variables: map[string]string{"SUBST_PRECEDENCE": "config"}}
	out, err := s.Substitute("$SUBST_PRECEDENCE", src, "")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if out != "config" {
		t.Fatalf("config variables must win, got %v", out)
	}
}

func TestSubstituteUnresolvedFails(t *testing.T) {
	s := NewDefaultSubstitutor()
	_, err := s.Substitute(map[string]any{"k": "${DEFINITELY_MISSING_VAR}"}, Sources{}, "")
	var vErr *errs.VariableNotFoundError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected VariableNotFoundError, got %v", err)
	}
	if vErr.VariableName != "DEFINITELY_MISSING_VAR" {
		t.Fatalf("wrong variable in error: %q", vErr.VariableName)
	}
}

func TestSubstituteNested(t *testing.T) {
	s := NewDefaultSubstitutor()
	src := Sources{Variables: map[string]string{"A": "1", "B": "2"}}
	out, err := s.Substitute(map[string]any{
		"list": []any{"$A", map[string]any{"inner": "${B}"}},
		"keep": 42,
	}, src, "")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	m := out.(map[string]any)
	list := m["list"].([]any)
	if list[0] != "1" {
		t.Fatalf("unexpected list element: %v", list[0])
	}
	if list[1].(map[string]any)["inner"] != "2" {
		t.Fatalf("nested map not substituted")
	}
	if m["keep"] != 42 {
		t.Fatalf("non-string values must pass through untouched")
	}
}

func TestFindRequiredVariables(t *testing.T) {
	s := NewDefaultSubstitutor()
	vars := s.FindRequiredVariables(map[string]any{
		"url": "https://${HOST}/x",
		"key": "$API_KEY",
	}, "svc_a")

	want := map[string]bool{"svc__a_HOST": false, "svc__a_API_KEY": false}
	for _, v := range vars {
		if _, ok := want[v]; !ok {
			t.Fatalf("unexpected variable %q", v)
		}
		want[v] = true
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("missing variable %q", k)
		}
	}
}

func TestSubstituteRejectsBadNamespace(t *testing.T) {
	s := NewDefaultSubstitutor()
	if _, err := s.Substitute("x", Sources{}, "bad.name"); err == nil {
		t.Fatal("expected error for namespace containing separator")
	}
}
