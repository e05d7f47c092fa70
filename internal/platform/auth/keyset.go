package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultKeyTTL = 5 * time.Minute
	// Unknown kids trigger at most one refetch per interval.
	minRefetchInterval = 10 * time.Second
)

var ErrUnknownKey = errors.New("signing key not found")

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet serves RSA verification keys from a JWKS document. When only an
// issuer is known, the JWKS location is discovered from the issuer's
// openid-configuration on first use, so startup does not depend on the
// identity provider being reachable.
type KeySet struct {
	issuer string
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	jwksURL  string
	keys     map[string]*rsa.PublicKey
	loadedAt time.Time
}

func NewKeySet(jwksURL, issuer string) *KeySet {
	return &KeySet{
		issuer:  issuer,
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     defaultKeyTTL,
		now:     time.Now,
	}
}

// Key returns the key for kid. A cached key is served until the TTL passes.
// If a refresh fails, a previously loaded key is still accepted.
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	age := s.now().Sub(s.loadedAt)
	cached, ok := s.keys[kid]
	switch {
	case ok && age <= s.ttl:
		return cached, nil
	case !ok && s.keys != nil && age < minRefetchInterval:
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}

	if err := s.refresh(ctx); err != nil {
		if ok {
			return cached, nil
		}
		return nil, err
	}
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (s *KeySet) refresh(ctx context.Context) error {
	if s.jwksURL == "" {
		if s.issuer == "" {
			return errors.New("no JWKS URL or issuer configured")
		}
		u, err := discoverJWKS(ctx, s.client, s.issuer)
		if err != nil {
			return err
		}
		s.jwksURL = u
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := getJSON(ctx, s.client, s.jwksURL, &doc); err != nil {
		return fmt.Errorf("load JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if pub, err := k.rsaKey(); err == nil {
			keys[k.Kid] = pub
		}
	}
	s.keys = keys
	s.loadedAt = s.now()
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// discoverJWKS reads jwks_uri from <issuer>/.well-known/openid-configuration.
func discoverJWKS(ctx context.Context, client *http.Client, issuer string) (string, error) {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	u := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	if err := getJSON(ctx, client, u, &doc); err != nil {
		return "", fmt.Errorf("OIDC discovery: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("OIDC discovery: document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
