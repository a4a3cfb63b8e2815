package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/logger"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

var testSecret = bytes.Repeat([]byte("s"), 32)

func testConfig(t *testing.T) *JWTConfig {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	return &JWTConfig{Issuer: "https://auth.example", Audience: "abstract-dao", Logger: testLogger}
}

func hmacToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	token := jwt.New()
	for k, v := range claims {
		require.NoError(t, token.Set(k, v))
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), testSecret))
	require.NoError(t, err)
	return string(signed)
}

func validClaims(subject string) map[string]any {
	return map[string]any{
		jwt.SubjectKey:    subject,
		jwt.IssuerKey:     "https://auth.example",
		jwt.AudienceKey:   []string{"abstract-dao"},
		jwt.ExpirationKey: time.Now().Add(time.Hour).Unix(),
		jwt.IssuedAtKey:   time.Now().Unix(),
	}
}

func TestHeaderAuthenticator(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    types.AccountId
		wantErr bool
	}{
		{name: "valid", header: "alice.near", want: "alice.near"},
		{name: "trimmed", header: "  alice.near ", want: "alice.near"},
		{name: "missing", header: "", wantErr: true},
		{name: "invalid", header: "Alice!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set(types.HeaderAccountId, tt.header)
			}
			got, err := HeaderAuthenticator{}.Authenticate(r)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errs.ErrUnauthenticated), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHMACAuthenticator(t *testing.T) {
	a, err := NewHMACAuthenticator(testSecret, testConfig(t))
	require.NoError(t, err)

	expired := validClaims("alice.near")
	expired[jwt.ExpirationKey] = time.Now().Add(-time.Hour).Unix()

	wrongAudience := validClaims("alice.near")
	wrongAudience[jwt.AudienceKey] = []string{"someone-else"}

	wrongIssuer := validClaims("alice.near")
	wrongIssuer[jwt.IssuerKey] = "https://evil.example"

	noSubject := validClaims("alice.near")
	delete(noSubject, jwt.SubjectKey)

	forged, err := jwt.Sign(func() jwt.Token {
		tok := jwt.New()
		_ = tok.Set(jwt.SubjectKey, "alice.near")
		return tok
	}(), jwt.WithKey(jwa.HS256(), bytes.Repeat([]byte("x"), 32)))
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		want    types.AccountId
		wantErr bool
	}{
		{name: "valid", header: "Bearer " + hmacToken(t, validClaims("alice.near")), want: "alice.near"},
		{name: "missing header", header: "", wantErr: true},
		{name: "not bearer", header: "Basic abc", wantErr: true},
		{name: "garbage", header: "Bearer not-a-token", wantErr: true},
		{name: "expired", header: "Bearer " + hmacToken(t, expired), wantErr: true},
		{name: "wrong audience", header: "Bearer " + hmacToken(t, wrongAudience), wantErr: true},
		{name: "wrong issuer", header: "Bearer " + hmacToken(t, wrongIssuer), wantErr: true},
		{name: "no subject", header: "Bearer " + hmacToken(t, noSubject), wantErr: true},
		{name: "subject is not an account", header: "Bearer " + hmacToken(t, validClaims("Not An Account")), wantErr: true},
		{name: "wrong key", header: "Bearer " + string(forged), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/requests", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := a.Authenticate(r)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errs.ErrUnauthenticated), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewHMACAuthenticator_RejectsShortSecret(t *testing.T) {
	_, err := NewHMACAuthenticator([]byte("short"), testConfig(t))
	assert.Error(t, err)
	_, err = NewHMACAuthenticator(testSecret, nil)
	assert.Error(t, err)
}

func TestKeySetAuthenticator(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	publicKey, err := jwk.Import(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, publicKey.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, publicKey.Set(jwk.AlgorithmKey, jwa.RS256()))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(publicKey))

	a, err := NewKeySetAuthenticator(set, testConfig(t))
	require.NoError(t, err)

	signingKey, err := jwk.Import(privateKey)
	require.NoError(t, err)
	require.NoError(t, signingKey.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, signingKey.Set(jwk.AlgorithmKey, jwa.RS256()))

	token := jwt.New()
	for k, v := range validClaims("bob.near") {
		require.NoError(t, token.Set(k, v))
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), signingKey))
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/requests", nil)
	r.Header.Set("Authorization", "Bearer "+string(signed))
	got, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, types.AccountId("bob.near"), got)

	// an HS256 token is not accepted by an RSA key set
	r.Header.Set("Authorization", "Bearer "+hmacToken(t, validClaims("bob.near")))
	_, err = a.Authenticate(r)
	assert.Error(t, err)

	_, err = NewKeySetAuthenticator(nil, testConfig(t))
	assert.Error(t, err)
}
