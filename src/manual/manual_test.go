package manual

import (
	"testing"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/templates"
)

type stubTemplate struct {
	templates.Base
	URL string `json:"url"`
}

type stubDecoder struct{}

func (stubDecoder) DecodeTemplate(data []byte) (templates.CallTemplate, error) {
	tpl := &stubTemplate{}
	if err := codec.Unmarshal(data, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func TestUnmarshalManual(t *testing.T) {
	raw := `{
		"format_version": "1.0",
		"tools": [
			{
				"name": "lookup",
				"description": "finds things",
				"input_schema": {"type": "object", "required": ["q"]},
				"tags": ["search"]
			}
		]
	}`
	m, err := Unmarshal([]byte(raw), stubDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	if m.FormatVersion != "1.0" || len(m.Tools) != 1 {
		t.Fatalf("unexpected manual: %+v", m)
	}
	tool := m.Tools[0]
	if tool.Name != "lookup" || tool.Inputs.Required[0] != "q" {
		t.Fatalf("tool fields lost: %+v", tool)
	}
	if tool.CallTemplate != nil {
		t.Fatal("tool without template must keep nil to inherit the root template")
	}
}

func TestUnmarshalToolLevelTemplate(t *testing.T) {
	raw := `{
		"format_version": "1.0",
		"tools": [
			{
				"name": "special",
				"call_template": {"name": "side", "type": "stub", "url": "https://side.example"}
			}
		]
	}`
	m, err := Unmarshal([]byte(raw), stubDecoder{})
	if err != nil {
		t.Fatal(err)
	}
	tpl, ok := m.Tools[0].CallTemplate.(*stubTemplate)
	if !ok || tpl.URL != "https://side.example" {
		t.Fatalf("tool template not decoded: %#v", m.Tools[0].CallTemplate)
	}
}

func TestUnmarshalLegacyAliases(t *testing.T) {
	raw := `{
		"version": "0.9",
		"tools": [
			{
				"name": "old",
				"inputs": {"type": "object", "required": ["x"]},
				"outputs": {"type": "string"}
			}
		]
	}`
	m, err := Unmarshal([]byte(raw), nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.FormatVersion != "0.9" {
		t.Fatalf("legacy version alias ignored: %q", m.FormatVersion)
	}
	tool := m.Tools[0]
	if len(tool.Inputs.Required) != 1 || tool.Outputs.Type != "string" {
		t.Fatalf("legacy schema aliases ignored: %+v", tool)
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	if _, err := Unmarshal([]byte(`not json`), nil); err == nil {
		t.Fatal("invalid payload must fail")
	}
}
