package specserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
	"github.com/openfroyo/openfroyo/pkg/provtoken"
)

func testServer(key []byte) *Server {
	cfg := Config{SigningKey: key, RepoToken: "repo-secret"}
	cfg.setDefaults()
	return &Server{cfg: cfg, resolver: NewFileResolver("/nonexistent")}
}

func TestAuthenticateSpecRequestAcceptsMatchingIdentity(t *testing.T) {
	key := []byte("signing-key")
	tok, err := provtoken.Mint(key, "edge", "s3", time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	s := testServer(key)
	req := httptest.NewRequest(http.MethodGet, "/spec/edge", nil)
	req.Header.Set("Authorization", "Bearer "+string(tok))

	spec, err := s.authenticateSpecRequest(req, "edge")
	if err != nil {
		t.Fatalf("authenticateSpecRequest: %v", err)
	}
	if spec != "s3" {
		t.Fatalf("expected resolved spec s3, got %q", spec)
	}
}

func TestAuthenticateSpecRequestRejectsIdentityMismatch(t *testing.T) {
	key := []byte("signing-key")
	tok, err := provtoken.Mint(key, "edge", "s3", time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	s := testServer(key)
	req := httptest.NewRequest(http.MethodGet, "/spec/other", nil)
	req.Header.Set("Authorization", "Bearer "+string(tok))

	_, err = s.authenticateSpecRequest(req, "other")
	if orcherr.KindOf(err) != orcherr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthenticateSpecRequestRejectsMissingBearer(t *testing.T) {
	s := testServer([]byte("signing-key"))
	req := httptest.NewRequest(http.MethodGet, "/spec/edge", nil)

	_, err := s.authenticateSpecRequest(req, "edge")
	if orcherr.KindOf(err) != orcherr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthenticateRepoRequestAcceptsConfiguredToken(t *testing.T) {
	s := testServer([]byte("signing-key"))
	req := httptest.NewRequest(http.MethodGet, "/infra.git/info/refs", nil)
	req.Header.Set("Authorization", "Bearer repo-secret")

	if err := s.authenticateRepoRequest(req); err != nil {
		t.Fatalf("authenticateRepoRequest: %v", err)
	}
}

func TestAuthenticateRepoRequestRejectsWrongToken(t *testing.T) {
	s := testServer([]byte("signing-key"))
	req := httptest.NewRequest(http.MethodGet, "/infra.git/info/refs", nil)
	req.Header.Set("Authorization", "Bearer wrong")

	if err := s.authenticateRepoRequest(req); err == nil {
		t.Fatal("expected an error for wrong repo token")
	}
}
