package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestValidID(t *testing.T) {
	if !validID("6f1c2b4e-8a8e-4c55-9d4f-0c2f4c9d1a11") {
		t.Error("UUIDは有効であるべき")
	}
	for _, id := range []string{"", "car-1", "1; DROP TABLE cars"} {
		if validID(id) {
			t.Errorf("validID(%q) = true, want false", id)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Error("23505は一意制約違反として判定されるべき")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("外部キー違反は一意制約違反ではない")
	}
	if isUniqueViolation(errors.New("other")) {
		t.Error("pq.Error以外は一意制約違反ではない")
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"Tesla":     "Tesla",
		"  gt-r  ":  "gt-r",
		"100%":      `100\%`,
		"a_b":       `a\_b`,
		`back\lash`: `back\\lash`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

// PostgreSQL実装が各インターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = NewPostgresUserRepo(nil)
	var _ SessionRepository = NewPostgresSessionRepo(nil)
	var _ ProfileRepository = NewPostgresProfileRepo(nil)
	var _ CarRepository = NewPostgresCarRepo(nil)
	var _ BookingRepository = NewPostgresBookingRepo(nil)
}
