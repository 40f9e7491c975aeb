package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type mockJWKSServer struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	kid        string
}

func newMockJWKSServer() (*mockJWKSServer, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &mockJWKSServer{privateKey: privateKey, publicKey: &privateKey.PublicKey, kid: "test-key-id"}, nil
}

func (m *mockJWKSServer) issueToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid
	return token.SignedString(m.privateKey)
}

func withMockCache(kid string, pub *rsa.PublicKey) {
	globalJWKSCache = &jwksCache{
		keys:      map[string]*rsa.PublicKey{kid: pub},
		lastFetch: time.Now(),
		cacheTTL:  time.Hour,
	}
}

func TestValidateTokenRS256ValidAudience(t *testing.T) {
	server, err := newMockJWKSServer()
	if err != nil {
		t.Fatalf("newMockJWKSServer: %v", err)
	}
	withMockCache(server.kid, server.publicKey)

	cfg := Config{
		Issuer:   "https://idp.example.com",
		Audience: "https://datasync.example.com",
	}
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iss": "https://idp.example.com",
		"aud": "https://datasync.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	tok, err := server.issueToken(claims)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	sub, err := ValidateToken(tok, cfg)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("expected sub=user-1, got %s", sub)
	}
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	server, err := newMockJWKSServer()
	if err != nil {
		t.Fatalf("newMockJWKSServer: %v", err)
	}
	withMockCache(server.kid, server.publicKey)

	cfg := Config{Issuer: "https://idp.example.com"}
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iss": "https://evil.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok, err := server.issueToken(claims)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	_, err = ValidateToken(tok, cfg)
	if err == nil || !strings.Contains(err.Error(), "invalid issuer") {
		t.Fatalf("expected invalid issuer error, got %v", err)
	}
}

func TestValidateTokenRejectsWrongAudience(t *testing.T) {
	server, err := newMockJWKSServer()
	if err != nil {
		t.Fatalf("newMockJWKSServer: %v", err)
	}
	withMockCache(server.kid, server.publicKey)

	cfg := Config{Audience: "https://datasync.example.com"}
	claims := jwt.MapClaims{
		"sub": "user-1",
		"aud": "https://attacker.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok, err := server.issueToken(claims)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	_, err = ValidateToken(tok, cfg)
	if err == nil || !strings.Contains(err.Error(), "invalid audience") {
		t.Fatalf("expected invalid audience error, got %v", err)
	}
}

func TestValidateTokenMultiValuedAudience(t *testing.T) {
	server, err := newMockJWKSServer()
	if err != nil {
		t.Fatalf("newMockJWKSServer: %v", err)
	}
	withMockCache(server.kid, server.publicKey)

	cfg := Config{AcceptedAudiences: []string{"https://datasync.example.com"}}
	claims := jwt.MapClaims{
		"sub": "user-1",
		"aud": []interface{}{"https://other.example.com", "https://datasync.example.com"},
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok, err := server.issueToken(claims)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	sub, err := ValidateToken(tok, cfg)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("expected sub=user-1, got %s", sub)
	}
}

func TestValidateTokenHS256(t *testing.T) {
	secret := "test-hmac-secret"
	cfg := Config{HS256Secret: secret}
	claims := jwt.MapClaims{
		"sub": "user-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	sub, err := ValidateToken(tok, cfg)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if sub != "user-2" {
		t.Fatalf("expected sub=user-2, got %s", sub)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	server, err := newMockJWKSServer()
	if err != nil {
		t.Fatalf("newMockJWKSServer: %v", err)
	}
	withMockCache(server.kid, server.publicKey)

	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	tok, err := server.issueToken(claims)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := ValidateToken(tok, Config{}); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateTokenMissingSub(t *testing.T) {
	server, err := newMockJWKSServer()
	if err != nil {
		t.Fatalf("newMockJWKSServer: %v", err)
	}
	withMockCache(server.kid, server.publicKey)

	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	tok, err := server.issueToken(claims)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := ValidateToken(tok, Config{}); err == nil {
		t.Fatal("expected token without sub claim to be rejected")
	}
}
