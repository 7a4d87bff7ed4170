package cli

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/src/templates"
)

func shellTemplate(t *testing.T, script string) *Template {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based test")
	}
	return &Template{
		Base:        templates.Base{Name: "local", CallTemplateType: templates.TypeCLI},
		CommandName: "sh",
		Args:        []string{"-c", script},
	}
}

func TestRegisterManualFromStdout(t *testing.T) {
	tpl := shellTemplate(t, `echo starting up
echo '{"format_version":"1.0","tools":[{"name":"hello"}]}'`)

	p := New(nil)
	got, err := p.RegisterManual(context.Background(), tpl)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hello", got[0].Name)
}

func TestRegisterManualNoManual(t *testing.T) {
	tpl := shellTemplate(t, `echo no manual here`)
	p := New(nil)
	_, err := p.RegisterManual(context.Background(), tpl)
	require.Error(t, err)
}

func TestCallToolParsesJSON(t *testing.T) {
	tpl := shellTemplate(t, `echo '{"ok":true}'`)
	p := New(nil)
	res, err := p.CallTool(context.Background(), "local.t", nil, tpl)
	require.NoError(t, err)
	require.Equal(t, true, res.(map[string]any)["ok"])
}

func TestCallToolFlagArguments(t *testing.T) {
	// Prints the flags it received so the argument mapping is observable.
	tpl := shellTemplate(t, `echo "$@"`)
	tpl.Args = append(tpl.Args, "argv0")

	p := New(nil)
	res, err := p.CallTool(context.Background(), "local.t", map[string]any{"name": "x", "count": 2}, tpl)
	require.NoError(t, err)
	require.Equal(t, "--count 2 --name x", res)
}

func TestCallToolFailureIncludesStderr(t *testing.T) {
	tpl := shellTemplate(t, `echo broken >&2; exit 3`)
	p := New(nil)
	_, err := p.CallTool(context.Background(), "local.t", nil, tpl)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}

func TestRegisterManualRequiresCommand(t *testing.T) {
	tpl := &Template{Base: templates.Base{Name: "local", CallTemplateType: templates.TypeCLI}}
	p := New(nil)
	_, err := p.RegisterManual(context.Background(), tpl)
	require.Error(t, err)
}
