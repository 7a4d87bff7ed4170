package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/toolmux/toolmux/src/errs"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

type stubTemplate struct {
	templates.Base
}

func newStubTemplate(name string) *stubTemplate {
	return &stubTemplate{Base: templates.Base{Name: name, CallTemplateType: "stub"}}
}

func newManual(toolNames ...string) *manual.Manual {
	m := manual.New()
	for _, n := range toolNames {
		m.Tools = append(m.Tools, tools.Tool{Name: n})
	}
	return m
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	if err := repo.SaveManual(ctx, newStubTemplate("m1"), newManual("m1.a", "m1.b")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	tool, err := repo.GetTool(ctx, "m1.a")
	if err != nil || tool.Name != "m1.a" {
		t.Fatalf("lookup failed: %v %v", tool, err)
	}

	byManual, err := repo.GetToolsByManual(ctx, "m1")
	if err != nil || len(byManual) != 2 {
		t.Fatalf("manual tools: %v %v", byManual, err)
	}

	tpl, err := repo.GetManualTemplate(ctx, "m1")
	if err != nil || tpl.TemplateName() != "m1" {
		t.Fatalf("template lookup: %v %v", tpl, err)
	}
}

func TestGetToolUnknown(t *testing.T) {
	repo := NewInMemoryToolRepository()
	_, err := repo.GetTool(context.Background(), "nope.tool")
	var notFound *errs.ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ToolNotFoundError, got %v", err)
	}
}

func TestSaveReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	if err := repo.SaveManual(ctx, newStubTemplate("m1"), newManual("m1.old1", "m1.old2")); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveManual(ctx, newStubTemplate("m1"), newManual("m1.new")); err != nil {
		t.Fatal(err)
	}

	if _, err := repo.GetTool(ctx, "m1.old1"); err == nil {
		t.Fatal("stale tool survived re-registration")
	}
	if _, err := repo.GetTool(ctx, "m1.new"); err != nil {
		t.Fatalf("new tool missing: %v", err)
	}
}

func TestRegistrationOrderStable(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	repo.SaveManual(ctx, newStubTemplate("first"), newManual("first.t"))
	repo.SaveManual(ctx, newStubTemplate("second"), newManual("second.t"))
	// Replacing keeps the original slot.
	repo.SaveManual(ctx, newStubTemplate("first"), newManual("first.t2"))

	all, err := repo.GetTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "first.t2" || all[1].Name != "second.t" {
		t.Fatalf("unexpected order: %v", all)
	}
}

func TestRemoveManual(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()
	repo.SaveManual(ctx, newStubTemplate("m1"), newManual("m1.a"))

	removed, err := repo.RemoveManual(ctx, "m1")
	if err != nil || !removed {
		t.Fatalf("remove failed: %v %v", removed, err)
	}
	if _, err := repo.GetTool(ctx, "m1.a"); err == nil {
		t.Fatal("tool survived manual removal")
	}
	removed, err = repo.RemoveManual(ctx, "m1")
	if err != nil || removed {
		t.Fatalf("second removal should be a no-op: %v %v", removed, err)
	}
}

func TestRemoveTool(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()
	repo.SaveManual(ctx, newStubTemplate("m1"), newManual("m1.a", "m1.b"))

	removed, err := repo.RemoveTool(ctx, "m1.a")
	if err != nil || !removed {
		t.Fatalf("remove failed: %v %v", removed, err)
	}
	left, _ := repo.GetToolsByManual(ctx, "m1")
	if len(left) != 1 || left[0].Name != "m1.b" {
		t.Fatalf("unexpected remaining tools: %v", left)
	}
}

// Readers racing a re-registration must see either the old or the new tool
// set, never a mix.
func TestAtomicReplacementUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	setA := newManual("m.a1", "m.a2")
	setB := newManual("m.b1", "m.b2")
	repo.SaveManual(ctx, newStubTemplate("m"), setA)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				repo.SaveManual(ctx, newStubTemplate("m"), setB)
			} else {
				repo.SaveManual(ctx, newStubTemplate("m"), setA)
			}
		}
		close(done)
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := repo.GetToolsByManual(ctx, "m")
				if err != nil {
					t.Errorf("read failed: %v", err)
					return
				}
				names := fmt.Sprintf("%s,%s", got[0].Name, got[1].Name)
				if names != "m.a1,m.a2" && names != "m.b1,m.b2" {
					t.Errorf("observed torn manual: %v", names)
					return
				}
			}
		}()
	}
	wg.Wait()
}
