package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewRunID(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewRunID()
	if err != nil {
		t.Fatalf("NewRunID() error = %v", err)
	}
	second, err := gen.NewRunID()
	if err != nil {
		t.Fatalf("NewRunID() error = %v", err)
	}
	if first == second {
		t.Fatal("expected unique run ids")
	}
	if first.Version() != goUUID.Version(7) {
		t.Fatalf("expected v7, got %d", first.Version())
	}
	if first.String() > second.String() {
		t.Fatalf("expected time-ordered ids, got %s then %s", first, second)
	}
}
