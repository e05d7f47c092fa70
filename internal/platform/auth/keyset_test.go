package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

func toJWK(key *rsa.PrivateKey, kid string) jwk {
	return jwk{
		Kty: "RSA",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// idp serves a discovery document and a JWKS whose contents can be swapped.
type idp struct {
	srv      *httptest.Server
	keys     atomic.Value // []jwk
	jwksHits atomic.Int32
	failJWKS atomic.Bool
}

func newIDP(t *testing.T, keys ...jwk) *idp {
	t.Helper()
	p := &idp{}
	p.keys.Store(keys)
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   p.srv.URL,
			"jwks_uri": p.srv.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		p.jwksHits.Add(1)
		if p.failJWKS.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": p.keys.Load()})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func TestKeySet_LoadsByKid(t *testing.T) {
	k := rsaKey(t)
	p := newIDP(t, toJWK(k, "k1"), jwk{Kty: "EC", Kid: "ec"})

	ks := NewKeySet(p.srv.URL+"/keys", "")
	got, err := ks.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.N.Cmp(k.N))
	assert.Equal(t, k.E, got.E)

	_, err = ks.Key(context.Background(), "ec")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestKeySet_DiscoversFromIssuer(t *testing.T) {
	k := rsaKey(t)
	p := newIDP(t, toJWK(k, "k1"))

	ks := NewKeySet("", p.srv.URL+"/")
	_, err := ks.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, p.srv.URL+"/keys", ks.jwksURL)
}

func TestKeySet_DiscoveryErrors(t *testing.T) {
	noDoc := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(noDoc.Close)
	_, err := NewKeySet("", noDoc.URL).Key(context.Background(), "k1")
	assert.Error(t, err)

	noURI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"issuer": "x"})
	}))
	t.Cleanup(noURI.Close)
	_, err = NewKeySet("", noURI.URL).Key(context.Background(), "k1")
	assert.ErrorContains(t, err, "jwks_uri")

	_, err = NewKeySet("", "").Key(context.Background(), "k1")
	assert.Error(t, err)
}

func TestKeySet_UnknownKidRefetchIsThrottled(t *testing.T) {
	k1, k2 := rsaKey(t), rsaKey(t)
	p := newIDP(t, toJWK(k1, "k1"))

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ks := NewKeySet(p.srv.URL+"/keys", "")
	ks.now = func() time.Time { return now }

	_, err := ks.Key(context.Background(), "k1")
	require.NoError(t, err)
	require.EqualValues(t, 1, p.jwksHits.Load())

	// Rotation: k2 appears at the provider.
	p.keys.Store([]jwk{toJWK(k1, "k1"), toJWK(k2, "k2")})

	_, err = ks.Key(context.Background(), "k2")
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.EqualValues(t, 1, p.jwksHits.Load(), "refetch inside the throttle window")

	now = now.Add(minRefetchInterval + time.Second)
	_, err = ks.Key(context.Background(), "k2")
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.jwksHits.Load())
}

func TestKeySet_StaleKeyServedWhenRefreshFails(t *testing.T) {
	k := rsaKey(t)
	p := newIDP(t, toJWK(k, "k1"))

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ks := NewKeySet(p.srv.URL+"/keys", "")
	ks.now = func() time.Time { return now }
	_, err := ks.Key(context.Background(), "k1")
	require.NoError(t, err)

	p.failJWKS.Store(true)
	now = now.Add(defaultKeyTTL + time.Minute)
	got, err := ks.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.N.Cmp(k.N))
}

func TestJWK_RejectsBadEncoding(t *testing.T) {
	_, err := jwk{Kty: "RSA", N: "!!!", E: "AQAB"}.rsaKey()
	assert.Error(t, err)
	_, err = jwk{Kty: "RSA", N: "AQAB", E: "AQ"}.rsaKey()
	assert.Error(t, err, "exponent 1 is not a valid RSA exponent")
}

func TestJWTMiddleware_RS256ViaJWKS(t *testing.T) {
	k := rsaKey(t)
	p := newIDP(t, toJWK(k, "rs-key"))

	sign := func(kid string, method jwt.SigningMethod, key any) string {
		claims := claimsFor("cust-7", time.Hour, RoleCustomer)
		claims.Issuer = p.srv.URL
		tok := jwt.NewWithClaims(method, claims)
		if kid != "" {
			tok.Header["kid"] = kid
		}
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}
	cfg := JWTConfig{Issuer: p.srv.URL}

	seen, err := runJWT(t, cfg, "/x", "Bearer "+sign("rs-key", jwt.SigningMethodRS256, k))
	require.NoError(t, err)
	assert.Equal(t, "cust-7", seen.UserID)

	_, err = runJWT(t, cfg, "/x", "Bearer "+sign("", jwt.SigningMethodRS256, k))
	wantStatus(t, err, http.StatusUnauthorized)

	// HS256 is refused when keys come from a JWKS.
	_, err = runJWT(t, cfg, "/x", "Bearer "+sign("rs-key", jwt.SigningMethodHS256, []byte("guess")))
	wantStatus(t, err, http.StatusUnauthorized)
}

func TestErrUnknownKeyWraps(t *testing.T) {
	ks := &KeySet{keys: map[string]*rsa.PublicKey{}, loadedAt: time.Now(), now: time.Now, ttl: time.Minute}
	_, err := ks.Key(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownKey))
}
