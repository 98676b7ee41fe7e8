package admin

import (
	"testing"

	"github.com/dorkfun/backend/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	acc := &models.AdminAccount{ID: 7, Username: "ops"}

	token, err := IssueToken(acc, "test-secret")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	id, username, err := VerifyToken(token, "test-secret")
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if id != 7 || username != "ops" {
		t.Errorf("verified claims = (%d, %q), want (7, ops)", id, username)
	}
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	acc := &models.AdminAccount{ID: 1, Username: "ops"}
	token, err := IssueToken(acc, "secret-a")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, _, err := VerifyToken(token, "secret-b"); err == nil {
		t.Error("token signed with another secret verified")
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not.a.jwt", "eyJhbGciOiJub25lIn0.e30."} {
		if _, _, err := VerifyToken(in, "test-secret"); err == nil {
			t.Errorf("VerifyToken(%q) accepted", in)
		}
	}
}
