package search

import (
	"context"
	"testing"

	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/repository"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

type stubTemplate struct {
	templates.Base
}

func seedRepo(t *testing.T, ts ...tools.Tool) repository.ToolRepository {
	t.Helper()
	repo := repository.NewInMemoryToolRepository()
	m := manual.New()
	m.Tools = ts
	tpl := &stubTemplate{Base: templates.Base{Name: "m", CallTemplateType: "stub"}}
	if err := repo.SaveManual(context.Background(), tpl, m); err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestTagMatchOutranksDescriptionMatch(t *testing.T) {
	repo := seedRepo(t,
		tools.Tool{Name: "m.desc_only", Description: "reports the current weather"},
		tools.Tool{Name: "m.tagged", Description: "numbers", Tags: []string{"weather"}},
	)

	got, err := NewTagSearchStrategy().SearchTools(context.Background(), repo, "weather", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "m.tagged" {
		t.Fatalf("tagged tool must rank first: %v", got)
	}
}

func TestEmptyQueryReturnsRegistrationOrder(t *testing.T) {
	repo := seedRepo(t,
		tools.Tool{Name: "m.a"},
		tools.Tool{Name: "m.b"},
		tools.Tool{Name: "m.c"},
		tools.Tool{Name: "m.d"},
	)

	got, err := NewTagSearchStrategy().SearchTools(context.Background(), repo, "", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("limit not honored: %v", got)
	}
	for i, want := range []string{"m.a", "m.b", "m.c"} {
		if got[i].Name != want {
			t.Fatalf("order not stable: %v", got)
		}
	}
}

func TestLimitZeroReturnsAll(t *testing.T) {
	repo := seedRepo(t,
		tools.Tool{Name: "m.a"},
		tools.Tool{Name: "m.b"},
	)
	got, err := NewTagSearchStrategy().SearchTools(context.Background(), repo, "anything", 0, nil)
	if err != nil || len(got) != 2 {
		t.Fatalf("expected all tools: %v %v", got, err)
	}
}

func TestNegativeLimitRejected(t *testing.T) {
	repo := seedRepo(t, tools.Tool{Name: "m.a"})
	if _, err := NewTagSearchStrategy().SearchTools(context.Background(), repo, "x", -1, nil); err == nil {
		t.Fatal("expected error for negative limit")
	}
}

func TestRequiredTagsFilterCandidates(t *testing.T) {
	repo := seedRepo(t,
		tools.Tool{Name: "m.a", Tags: []string{"finance"}},
		tools.Tool{Name: "m.b", Tags: []string{"weather"}},
		tools.Tool{Name: "m.c", Tags: []string{"Weather", "extra"}},
	)
	got, err := NewTagSearchStrategy().SearchTools(context.Background(), repo, "", 0, []string{"weather"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("tag filter wrong (must be case-insensitive): %v", got)
	}
	for _, tool := range got {
		if tool.Name == "m.a" {
			t.Fatalf("filtered-out tool returned: %v", got)
		}
	}
}

func TestShortDescriptionWordsIgnored(t *testing.T) {
	repo := seedRepo(t,
		tools.Tool{Name: "m.short", Description: "of in at"},
		tools.Tool{Name: "m.real", Description: "currency conversion rates"},
	)
	got, err := NewTagSearchStrategy().SearchTools(context.Background(), repo, "currency of in at", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Name != "m.real" {
		t.Fatalf("stop-length words must not score: %v", got)
	}
}
