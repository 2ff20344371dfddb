// Package provtoken implements the provisioning-token service (component
// C4): minting and verifying HMAC-signed tokens that authorize a single
// node to fetch its spec from the server daemon (§4.4).
package provtoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/openfroyo/pkg/orcherr"
)

// version is the single supported token wire version. A version mismatch
// on verify is malformed, not unauthorized: it signals an incompatible
// token format, not a forged or stale one.
const version = 1

// nonceSize is 16 bytes (128 bits), meeting §4.4's minimum nonce entropy
// requirement.
const nonceSize = 16

// claims is the signed payload: version, identity (the node name the token
// authorizes), expiry, and a random nonce. Field names are kept short
// because they round-trip through base64url on the wire.
type claims struct {
	V int    `json:"v"`
	N string `json:"n"`
	S string `json:"s"`
	E int64  `json:"e"`
	X string `json:"x"`
}

// Token is a minted provisioning token's two base64url segments joined by
// a dot, in the style of token_cli.py's payload.signature encoding.
type Token string

// Mint produces a signed Token authorizing identity to fetch spec, expiring
// after ttl, using key as the HMAC-SHA256 secret.
func Mint(key []byte, identity, spec string, ttl time.Duration) (Token, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", orcherr.New(orcherr.KindInternal, "generating token nonce", err)
	}

	c := claims{
		V: version,
		N: identity,
		S: spec,
		E: time.Now().Add(ttl).Unix(),
		X: base64.RawURLEncoding.EncodeToString(nonce),
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return "", orcherr.New(orcherr.KindInternal, "marshaling token claims", err)
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	sig := sign(key, payloadB64)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return Token(payloadB64 + "." + sigB64), nil
}

func sign(key []byte, payloadB64 string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payloadB64))
	return mac.Sum(nil)
}

// Claims is the verified, decoded content of a token.
type Claims struct {
	Identity string
	Spec     string
	Expiry   time.Time
	Nonce    string
}

// Verify checks a token's signature and expiry against key and returns its
// claims. Any failure is classified per §7's error taxonomy: a malformed
// wire format or bad version is KindMalformed, a signature mismatch is
// KindUnauthorized, and an expired-but-valid token is KindExpired. Clock
// skew tolerance is zero, per §4.4.
func Verify(key []byte, tok Token) (*Claims, error) {
	parts := strings.SplitN(string(tok), ".", 2)
	if len(parts) != 2 {
		return nil, orcherr.New(orcherr.KindMalformed, "token is not in payload.signature form", nil)
	}
	payloadB64, sigB64 := parts[0], parts[1]

	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, orcherr.New(orcherr.KindMalformed, "token payload is not valid base64url", err)
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, orcherr.New(orcherr.KindMalformed, "token signature is not valid base64url", err)
	}

	wantSig := sign(key, payloadB64)
	if subtle.ConstantTimeCompare(gotSig, wantSig) != 1 {
		return nil, orcherr.New(orcherr.KindUnauthorized, "token signature is invalid", nil)
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, orcherr.New(orcherr.KindMalformed, "token payload is not valid claims JSON", err)
	}
	if c.V != version {
		return nil, orcherr.New(orcherr.KindMalformed, fmt.Sprintf("unsupported token version %d", c.V), nil)
	}
	if len(c.X) == 0 {
		return nil, orcherr.New(orcherr.KindMalformed, "token nonce is empty", nil)
	}

	expiry := time.Unix(c.E, 0)
	if !time.Now().Before(expiry) {
		return nil, orcherr.New(orcherr.KindExpired, "token has expired", nil)
	}

	return &Claims{
		Identity: c.N,
		Spec:     c.S,
		Expiry:   expiry,
		Nonce:    c.X,
	}, nil
}

