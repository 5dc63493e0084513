// Package auth verifies Firebase ID tokens. Tokens are RS256 JWTs
// signed by Google's securetoken service; public keys are fetched from
// the published JWKS document and cached between requests.
package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/veostudio/studio-api/internal/generation"
)

// DefaultJWKSURL serves the securetoken signing keys.
const DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// keyCacheTTL bounds how long a fetched key set is reused.
const keyCacheTTL = time.Hour

// ErrProjectIDRequired is returned when a Verifier is constructed
// without a Firebase project ID.
var ErrProjectIDRequired = errors.New("auth: firebase project id is required")

// Principal identifies the authenticated caller.
type Principal struct {
	UID   string
	Email string
}

// Verifier checks Firebase ID tokens against a project.
type Verifier struct {
	projectID  string
	jwksURL    string
	httpClient *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithJWKSURL overrides the signing key endpoint.
func WithJWKSURL(u string) VerifierOption {
	return func(v *Verifier) {
		v.jwksURL = u
	}
}

// WithHTTPClient sets a custom HTTP client for key fetches.
func WithHTTPClient(hc *http.Client) VerifierOption {
	return func(v *Verifier) {
		v.httpClient = hc
	}
}

// NewVerifier creates a Verifier for the given Firebase project.
func NewVerifier(projectID string, opts ...VerifierOption) (*Verifier, error) {
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}

	v := &Verifier{
		projectID:  projectID,
		jwksURL:    DefaultJWKSURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

type tokenClaims struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
	Expires  int64  `json:"exp"`
	IssuedAt int64  `json:"iat"`
	Email    string `json:"email"`
}

// Verify checks the token's signature and claims and returns the caller
// it identifies. Every failure is an Unauthenticated error.
func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Principal{}, generation.NewUnauthenticated("malformed token")
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Principal{}, generation.NewUnauthenticated("malformed token header")
	}
	var header tokenHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return Principal{}, generation.NewUnauthenticated("malformed token header")
	}
	if header.Alg != "RS256" || header.Kid == "" {
		return Principal{}, generation.NewUnauthenticated("unexpected token signature algorithm")
	}

	claimsRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Principal{}, generation.NewUnauthenticated("malformed token claims")
	}
	var claims tokenClaims
	if err := json.Unmarshal(claimsRaw, &claims); err != nil {
		return Principal{}, generation.NewUnauthenticated("malformed token claims")
	}

	key, err := v.signingKey(ctx, header.Kid)
	if err != nil {
		return Principal{}, err
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Principal{}, generation.NewUnauthenticated("malformed token signature")
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return Principal{}, generation.NewUnauthenticated("invalid token signature")
	}

	now := time.Now()
	if claims.Expires <= 0 || now.After(time.Unix(claims.Expires, 0)) {
		return Principal{}, generation.NewUnauthenticated("token expired")
	}
	if claims.Audience != v.projectID {
		return Principal{}, generation.NewUnauthenticated("token audience mismatch")
	}
	if claims.Issuer != "https://securetoken.google.com/"+v.projectID {
		return Principal{}, generation.NewUnauthenticated("token issuer mismatch")
	}
	if claims.Subject == "" {
		return Principal{}, generation.NewUnauthenticated("token subject missing")
	}

	return Principal{UID: claims.Subject, Email: claims.Email}, nil
}

// signingKey returns the public key for kid, refreshing the cached key
// set when the kid is unknown or the cache is stale.
func (v *Verifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < keyCacheTTL {
		return key, nil
	}

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.fetchedAt = time.Now()

	key, ok := v.keys[kid]
	if !ok {
		return nil, generation.NewUnauthenticated("unknown token signing key")
	}
	return key, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, generation.NewTransport("create key request", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, generation.NewTransport("fetch signing keys", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, generation.NewTransport("fetch signing keys",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, generation.NewTransport("decode signing keys", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	exponent := 0
	for _, b := range eBytes {
		exponent = exponent<<8 | int(b)
	}
	if exponent <= 0 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: exponent,
	}, nil
}
