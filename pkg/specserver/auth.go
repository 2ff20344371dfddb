package specserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
	"github.com/openfroyo/openfroyo/pkg/provtoken"
)

// extractBearerToken pulls the token out of an Authorization: Bearer
// header, mirroring auth.py's extract_bearer_token.
func extractBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

// authenticateSpecRequest verifies a provisioning token authorizes
// fetching the spec at urlIdentity, per §4.5: the token's identity (`n`
// claim) MUST equal the URL identity, and the token's `s` claim (not the
// URL) resolves which spec document to serve.
func (s *Server) authenticateSpecRequest(r *http.Request, urlIdentity string) (specToServe string, err error) {
	raw, ok := extractBearerToken(r)
	if !ok {
		return "", orcherr.New(orcherr.KindUnauthorized, "missing bearer token", nil)
	}

	claims, err := provtoken.Verify(s.cfg.SigningKey, provtoken.Token(raw))
	if err != nil {
		return "", err
	}

	if claims.Identity != urlIdentity {
		return "", orcherr.New(orcherr.KindUnauthorized, "token identity does not match requested path", nil)
	}

	if posture := s.posture; posture != nil {
		if err := posture.Validate(r, claims.Identity); err != nil {
			return "", err
		}
	}

	return claims.Spec, nil
}

// authenticateRepoRequest validates the simple opaque bearer token used
// for git-over-HTTP repo access, per §4.5.
func (s *Server) authenticateRepoRequest(r *http.Request) error {
	raw, ok := extractBearerToken(r)
	if !ok {
		return orcherr.New(orcherr.KindUnauthorized, "missing bearer token", nil)
	}
	if subtle.ConstantTimeCompare([]byte(raw), []byte(s.cfg.RepoToken)) != 1 {
		return orcherr.New(orcherr.KindUnauthorized, "invalid repo token", nil)
	}
	return nil
}

// PostureValidator layers a secondary, narrowing check over provisioning
// token auth: network-based, site-token, or per-node-token postures (§D.3
// of the expanded spec; v2 posture semantics per §9's design notes).
// It may only reject a request that the provisioning token already
// authorized; it never substitutes for that check.
type PostureValidator interface {
	Validate(r *http.Request, identity string) error
}
