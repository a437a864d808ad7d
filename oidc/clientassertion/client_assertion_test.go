// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2/jwt"
)

// any non-nil error from validate() will be errors.Join()ed.
// this is so we can assert each error within.
type joinedErrs interface {
	Unwrap() []error
}

func assertJoinedErrs(t *testing.T, expect []error, actual error) {
	t.Helper()
	require.Error(t, actual)
	err := errors.Unwrap(actual) // validate() wraps the joined errors with its op
	joined, ok := err.(joinedErrs)
	require.True(t, ok, "expected Join()ed errors from validate()")
	require.ElementsMatch(t, expect, joined.Unwrap())
}

const testSecret = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" // 32 bytes for HS256

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// TestJWTBare tests what errors we expect if &JWT{} is instantiated directly,
// rather than using a constructor.
func TestJWTBare(t *testing.T) {
	t.Parallel()
	j := &JWT{}
	expect := []error{ErrMissingFuncIDGenerator, ErrMissingFuncNow}
	assertJoinedErrs(t, expect, j.validate())

	tokenStr, err := j.Serialize()
	require.Error(t, err)
	for _, e := range expect {
		assert.ErrorIs(t, err, e)
	}
	assert.Equal(t, "", tokenStr)
}

func TestNewJWTWithHMAC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cid     string
		aud     []string
		alg     HSAlgorithm
		secret  string
		opts    []Option
		wantErr []error
	}{
		{name: "valid", cid: "cid", aud: []string{"aud"}, alg: HS256, secret: testSecret, opts: []Option{WithKeyID("kid")}},
		{name: "short-secret", cid: "cid", aud: []string{"aud"}, alg: HS384, secret: testSecret, wantErr: []error{ErrInvalidSecretLength}},
		{name: "empty-secret", cid: "cid", aud: []string{"aud"}, alg: HS256, wantErr: []error{ErrInvalidSecretLength}},
		{name: "unsupported-alg", cid: "cid", aud: []string{"aud"}, alg: "HS1", secret: testSecret, wantErr: []error{ErrUnsupportedAlgorithm}},
		{name: "missing-client-and-audience", alg: HS256, secret: testSecret, wantErr: []error{ErrMissingClientID, ErrMissingAudience}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			j, err := NewJWTWithHMAC(tt.cid, tt.aud, tt.alg, tt.secret, tt.opts...)
			if tt.wantErr != nil {
				require.Error(err)
				assert.Nil(j)
				for _, want := range tt.wantErr {
					assert.ErrorIs(err, want)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.cid, j.clientID)
			assert.Equal(tt.aud, j.audience)
			assert.Equal(testSecret, j.secret)
			assert.Equal("kid", j.headers["kid"])
		})
	}
}

func TestNewJWTWithRSAKey(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)
	tests := []struct {
		name    string
		alg     RSAlgorithm
		key     *rsa.PrivateKey
		opts    []Option
		wantErr error
	}{
		{name: "valid", alg: RS256, key: key, opts: []Option{WithHeaders(map[string]string{"h1": "v1"})}},
		{name: "nil-key", alg: RS256, wantErr: ErrNilPrivateKey},
		{name: "unsupported-alg", alg: "PS256", key: key, wantErr: ErrUnsupportedAlgorithm},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			j, err := NewJWTWithRSAKey("cid", []string{"aud"}, tt.alg, tt.key, tt.opts...)
			if tt.wantErr != nil {
				require.Error(err)
				assert.Nil(j)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.Equal(map[string]string{"h1": "v1"}, j.headers)
		})
	}
}

func TestJWT_Serialize(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)

	hmacJWT, err := NewJWTWithHMAC("test-client-id", []string{"test-aud"}, HS256, testSecret,
		WithKeyID("test-key-id"),
		WithHeaders(map[string]string{"xtra": "headies"}),
	)
	require.NoError(t, err)
	rsaJWT, err := NewJWTWithRSAKey("test-client-id", []string{"test-aud"}, RS256, key,
		WithKeyID("test-key-id"),
		WithHeaders(map[string]string{"xtra": "headies"}),
	)
	require.NoError(t, err)

	tests := []struct {
		name     string
		j        *JWT
		claimKey any // []byte or pubkey; used to check the signature
	}{
		{name: "valid-secret", j: hmacJWT, claimKey: []byte(testSecret)},
		{name: "valid-key", j: rsaJWT, claimKey: &key.PublicKey},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			now := time.Now()
			tt.j.now = func() time.Time { return now }
			tt.j.genID = func() (string, error) { return "test-claim-id", nil }

			tokenString, err := tt.j.Serialize()
			require.NoError(err)

			token, err := jwt.ParseSigned(tokenString)
			require.NoError(err)
			require.Len(token.Headers, 1)
			h := token.Headers[0]
			assert.Equal(string(tt.j.alg), h.Algorithm)
			assert.Equal("test-key-id", h.KeyID)
			assert.EqualValues("JWT", h.ExtraHeaders["typ"])
			assert.EqualValues("headies", h.ExtraHeaders["xtra"])

			var claims jwt.Claims
			require.NoError(token.Claims(tt.claimKey, &claims))
			require.NoError(claims.Validate(jwt.Expected{
				Issuer:   "test-client-id",
				Subject:  "test-client-id",
				Audience: jwt.Audience{"test-aud"},
				ID:       "test-claim-id",
				Time:     now,
			}))
			assert.Equal(now.Add(DefaultTTL).Unix(), claims.Expiry.Time().Unix())
		})
	}

	t.Run("error-generating-token-id", func(t *testing.T) {
		genIDErr := errors.New("failed to generate test id")
		j, err := NewJWTWithHMAC("a", []string{"a"}, HS256, testSecret)
		require.NoError(t, err)
		j.genID = func() (string, error) { return "", genIDErr }
		tokenString, err := j.Serialize()
		require.ErrorIs(t, err, genIDErr)
		require.Equal(t, "", tokenString)
	})
	t.Run("unique-ids", func(t *testing.T) {
		j, err := NewJWTWithHMAC("a", []string{"a"}, HS256, testSecret)
		require.NoError(t, err)
		first, err := j.Serialize()
		require.NoError(t, err)
		second, err := j.Serialize()
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestParseRSAKeyPEM(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)

	tests := []struct {
		name    string
		pem     string
		wantErr bool
	}{
		{name: "pkcs1", pem: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))},
		{name: "pkcs8", pem: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))},
		{name: "not-pem", pem: "not a key", wantErr: true},
		{name: "not-rsa", pem: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: ecDER})), wantErr: true},
		{name: "garbage", pem: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("garbage")})), wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := ParseRSAKeyPEM(tt.pem)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, ErrInvalidPrivateKey), "wanted \"%s\" but got \"%s\"", ErrInvalidPrivateKey, err)
				return
			}
			require.NoError(err)
			assert.True(key.Equal(got))
		})
	}
}
