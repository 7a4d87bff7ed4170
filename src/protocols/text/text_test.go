package text

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/src/templates"
)

func writeManualFile(t *testing.T, name, content string) *Template {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &Template{
		Base:     templates.Base{Name: "files", CallTemplateType: templates.TypeText},
		FilePath: path,
	}
}

func TestRegisterManualJSON(t *testing.T) {
	tpl := writeManualFile(t, "manual.json",
		`{"format_version":"1.0","tools":[{"name":"lookup","tags":["static"]}]}`)

	p := New(nil)
	got, err := p.RegisterManual(context.Background(), tpl)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "lookup", got[0].Name)
}

func TestRegisterManualYAML(t *testing.T) {
	tpl := writeManualFile(t, "manual.yaml", "format_version: \"1.0\"\ntools:\n  - name: lookup\n")

	p := New(nil)
	got, err := p.RegisterManual(context.Background(), tpl)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCallToolReturnsContent(t *testing.T) {
	tpl := writeManualFile(t, "manual.json",
		`{"format_version":"1.0","tools":[{"name":"lookup"}],"data":{"answer":42}}`)

	p := New(nil)
	res, err := p.CallTool(context.Background(), "files.lookup", nil, tpl)
	require.NoError(t, err)
	data := res.(map[string]any)["data"].(map[string]any)
	require.Equal(t, float64(42), data["answer"])
}

func TestMissingFile(t *testing.T) {
	tpl := &Template{
		Base:     templates.Base{Name: "files", CallTemplateType: templates.TypeText},
		FilePath: "/does/not/exist.json",
	}
	p := New(nil)
	_, err := p.RegisterManual(context.Background(), tpl)
	require.Error(t, err)
}
