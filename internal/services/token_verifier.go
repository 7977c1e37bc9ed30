package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the verified identity carried by a bearer token.
type TokenClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	ExpiresAt     time.Time
}

// TokenVerifier validates bearer tokens from the configured identity
// provider. Verification is stateless per request; signing keys are cached.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*TokenClaims, error)
}

type tokenVerifier struct {
	httpClient   *http.Client
	wellKnownURL string
	issuer       string
	audience     string
	algs         []string

	keys         *keyCache
	discoverOnce sync.Once
	discoverErr  error
}

// NewTokenVerifierFromEnv reads AUTH_ISSUER and AUTH_AUDIENCE. The JWKS
// endpoint comes from OIDC discovery under the issuer, or AUTH_JWKS_URL
// when the provider does not serve a discovery document.
func NewTokenVerifierFromEnv(httpClient *http.Client) (TokenVerifier, error) {
	issuer := strings.TrimSpace(os.Getenv("AUTH_ISSUER"))
	if issuer == "" {
		return nil, fmt.Errorf("AUTH_ISSUER is required")
	}
	audience := strings.TrimSpace(os.Getenv("AUTH_AUDIENCE"))
	if audience == "" {
		return nil, fmt.Errorf("AUTH_AUDIENCE is required")
	}
	return NewTokenVerifier(httpClient, issuer, audience, strings.TrimSpace(os.Getenv("AUTH_JWKS_URL"))), nil
}

func NewTokenVerifier(httpClient *http.Client, issuer, audience, jwksURL string) TokenVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	v := &tokenVerifier{
		httpClient:   httpClient,
		wellKnownURL: strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration",
		issuer:       issuer,
		audience:     audience,
		algs:         []string{"RS256", "ES256"},
		keys:         newKeyCache(httpClient),
	}
	if jwksURL != "" {
		v.keys.setEndpoint(jwksURL)
		v.discoverOnce.Do(func() {})
	}
	return v
}

type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

func (v *tokenVerifier) fetchDiscovery(ctx context.Context, doc *discoveryDoc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.wellKnownURL, nil)
	if err != nil {
		return err
	}
	res, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("discovery request failed: %s", res.Status)
	}
	return json.NewDecoder(res.Body).Decode(doc)
}

func (v *tokenVerifier) ensureDiscovery(ctx context.Context) error {
	v.discoverOnce.Do(func() {
		var doc discoveryDoc
		if err := v.fetchDiscovery(ctx, &doc); err != nil {
			v.discoverErr = err
			return
		}
		if strings.TrimSpace(doc.JWKSURI) == "" {
			v.discoverErr = fmt.Errorf("discovery missing jwks_uri")
			return
		}
		v.keys.setEndpoint(doc.JWKSURI)
	})
	return v.discoverErr
}

func (v *tokenVerifier) Verify(ctx context.Context, token string) (*TokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("token is empty")
	}
	if err := v.ensureDiscovery(ctx); err != nil {
		return nil, fmt.Errorf("oidc discovery error: %w", err)
	}

	keyFor := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, fmt.Errorf("missing kid")
		}
		return v.keys.signingKey(ctx, kid)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(v.algs))
	tok, err := parser.ParseWithClaims(token, claims, keyFor)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if tok == nil || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	// jwt/v5 MapClaims has no Valid(), so time claims are checked by hand.
	if err := checkTimeClaims(claims, time.Now(), 30*time.Second); err != nil {
		return nil, err
	}

	if iss := stringClaim(claims, "iss"); iss != v.issuer {
		return nil, fmt.Errorf("issuer mismatch: %q", iss)
	}
	if !audienceMatches(claims["aud"], v.audience) {
		return nil, fmt.Errorf("audience mismatch")
	}
	sub := strings.TrimSpace(stringClaim(claims, "sub"))
	if sub == "" {
		return nil, fmt.Errorf("missing sub")
	}

	out := &TokenClaims{
		Subject:       sub,
		Email:         stringClaim(claims, "email"),
		Name:          stringClaim(claims, "name"),
		EmailVerified: boolClaim(claims["email_verified"]),
	}
	if exp, _, err := numericClaim(claims, "exp"); err == nil {
		out.ExpiresAt = exp
	}
	return out, nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

// numericClaim reads an optional numeric-date claim. found reports whether
// the claim was present at all.
func numericClaim(claims jwt.MapClaims, name string) (t time.Time, found bool, err error) {
	raw, ok := claims[name]
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := numericDate(raw)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("invalid %s: %w", name, err)
	}
	return ts, true, nil
}

func checkTimeClaims(claims jwt.MapClaims, now time.Time, leeway time.Duration) error {
	exp, found, err := numericClaim(claims, "exp")
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("missing exp")
	}
	if exp.Add(leeway).Before(now) {
		return fmt.Errorf("token expired")
	}

	nbf, found, err := numericClaim(claims, "nbf")
	if err != nil {
		return err
	}
	if found && nbf.After(now.Add(leeway)) {
		return fmt.Errorf("token not valid yet")
	}

	iat, found, err := numericClaim(claims, "iat")
	if err != nil {
		return err
	}
	if found && iat.After(now.Add(5*time.Minute)) {
		return fmt.Errorf("token issued in the future")
	}
	return nil
}

// numericDate converts a JWT numeric date (seconds since epoch) to a time.
// Decoders hand the value over as a float, a json.Number, or occasionally
// a string.
func numericDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case float64:
		return unixTime(int64(x))
	case int64:
		return unixTime(x)
	case int:
		return unixTime(int64(x))
	case json.Number:
		return secondsString(string(x))
	case string:
		return secondsString(x)
	}
	return time.Time{}, fmt.Errorf("unexpected type %T", v)
}

func secondsString(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return unixTime(n)
}

func unixTime(sec int64) (time.Time, error) {
	if sec < 1 {
		return time.Time{}, fmt.Errorf("numeric date %d out of range", sec)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func audienceMatches(aud any, want string) bool {
	if s, ok := aud.(string); ok {
		return s == want
	}
	list, ok := aud.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if s, ok := item.(string); ok && s == want {
			return true
		}
	}
	return false
}

func boolClaim(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "1" || strings.EqualFold(x, "true")
	case float64:
		return x != 0
	}
	return false
}

// ----- signing key cache (RSA and EC) -----

const keyCacheTTL = 6 * time.Hour

type keyCache struct {
	httpClient *http.Client

	mu         sync.RWMutex
	endpoint   string
	byKid      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	freshUntil time.Time
}

func newKeyCache(httpClient *http.Client) *keyCache {
	return &keyCache{httpClient: httpClient, byKid: map[string]any{}}
}

func (c *keyCache) setEndpoint(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = url
}

// cached returns the key for kid (nil when unknown) and whether the cached
// set is still within its TTL.
func (c *keyCache) cached(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byKid[kid], time.Now().Before(c.freshUntil)
}

func (c *keyCache) target() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`

	// RSA
	N string `json:"n"`
	E string `json:"e"`

	// EC
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (c *keyCache) signingKey(ctx context.Context, kid string) (any, error) {
	key, fresh := c.cached(kid)
	if key != nil && fresh {
		return key, nil
	}

	endpoint := c.target()
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("jwks url not set")
	}
	if err := c.fetch(ctx, endpoint); err != nil {
		// A stale key still beats a failed fetch.
		if key, _ := c.cached(kid); key != nil {
			return key, nil
		}
		return nil, err
	}

	key, _ = c.cached(kid)
	if key == nil {
		return nil, fmt.Errorf("kid not found in jwks: %s", kid)
	}
	return key, nil
}

func (c *keyCache) fetch(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: %s", res.Status)
	}
	var set jwkSet
	if err := json.NewDecoder(res.Body).Decode(&set); err != nil {
		return err
	}

	next := keysFromSet(set)
	if len(next) == 0 {
		return fmt.Errorf("jwks contained no usable keys")
	}

	c.mu.Lock()
	c.byKid = next
	c.freshUntil = time.Now().Add(keyCacheTTL)
	c.mu.Unlock()
	return nil
}

func keysFromSet(set jwkSet) map[string]any {
	out := make(map[string]any, len(set.Keys))
	for _, entry := range set.Keys {
		if strings.TrimSpace(entry.Kid) == "" {
			continue
		}
		pub, err := parseJWK(entry)
		if err != nil {
			continue
		}
		out[entry.Kid] = pub
	}
	return out
}

func parseJWK(k jwk) (any, error) {
	switch k.Kty {
	case "RSA":
		return rsaKey(k.N, k.E)
	case "EC":
		return ecKey(k.Crv, k.X, k.Y)
	}
	return nil, fmt.Errorf("unsupported kty: %s", k.Kty)
}

func b64BigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func rsaKey(modB64, expB64 string) (*rsa.PublicKey, error) {
	n, err := b64BigInt(modB64)
	if err != nil {
		return nil, err
	}
	expBytes, err := base64.RawURLEncoding.DecodeString(expB64)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range expBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("rsa exponent is zero")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func ecKey(crv, x64, y64 string) (*ecdsa.PublicKey, error) {
	if crv != "P-256" {
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}
	x, err := b64BigInt(x64)
	if err != nil {
		return nil, err
	}
	y, err := b64BigInt(y64)
	if err != nil {
		return nil, err
	}
	curve := elliptic.P256()
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("invalid EC point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
