package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-bytes-long-xxxxx"

// makeToken creates a signed HS256 JWT from the given secret and claims.
func makeToken(secret string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(secret))
	return signed
}

func TestNewHS256Validator(t *testing.T) {
	t.Parallel()

	v, err := NewHS256Validator("my-secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("my-secret"), v.secret)

	_, err = NewHS256Validator("")
	require.Error(t, err)
}

func TestHS256Validator_Validate(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		token      string
		wantErr    string
		wantSub    string
		wantTenant string
		wantPerms  []string
		wantAud    []string
	}{
		{
			name: "string tenant and permission array",
			token: makeToken(testSecret, jwt.MapClaims{
				"sub":         "dispatcher-1",
				"iss":         "https://auth.fleet.test",
				"aud":         "reports",
				"tenant_id":   "acme",
				"permissions": []string{"reports:read", "reports:run"},
				"exp":         future,
			}),
			wantSub:    "dispatcher-1",
			wantTenant: "acme",
			wantPerms:  []string{"reports:read", "reports:run"},
			wantAud:    []string{"reports"},
		},
		{
			name: "numeric tenant and scope string",
			token: makeToken(testSecret, jwt.MapClaims{
				"sub":         "dispatcher-2",
				"tenant_id":   7,
				"permissions": "reports:read finance",
				"exp":         future,
			}),
			wantSub:    "dispatcher-2",
			wantTenant: "7",
			wantPerms:  []string{"reports:read", "finance"},
		},
		{
			name: "expired",
			token: makeToken(testSecret, jwt.MapClaims{
				"sub": "x",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantErr: "token verification failed",
		},
		{
			name:    "missing exp",
			token:   makeToken(testSecret, jwt.MapClaims{"sub": "x"}),
			wantErr: "token verification failed",
		},
		{
			name:    "wrong secret",
			token:   makeToken("other-secret", jwt.MapClaims{"sub": "x", "exp": future}),
			wantErr: "token verification failed",
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: "token verification failed",
		},
	}

	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims, err := v.Validate(context.Background(), tt.token)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, claims.Subject)
			assert.Equal(t, tt.wantTenant, claims.String(DefaultTenantClaim))
			assert.Equal(t, tt.wantPerms, claims.List(DefaultPermissionsClaim))
			if tt.wantAud != nil {
				assert.Equal(t, tt.wantAud, claims.Audience)
			}
		})
	}
}

func TestHS256Validator_RejectsNoneAlgorithm(t *testing.T) {
	t.Parallel()

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "x",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v, err := NewHS256Validator(testSecret)
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), signed)
	require.Error(t, err)
}

func TestJWTClaims_Accessors(t *testing.T) {
	t.Parallel()

	c := &JWTClaims{Raw: map[string]interface{}{
		"tenant":  float64(12),
		"flag":    true,
		"perms":   []interface{}{"a", "", 3, "b"},
		"scope":   "  x   y ",
		"missing": nil,
	}}
	assert.Equal(t, "12", c.String("tenant"))
	assert.Empty(t, c.String("flag"))
	assert.Empty(t, c.String("absent"))
	assert.Equal(t, []string{"a", "b"}, c.List("perms"))
	assert.Equal(t, []string{"x", "y"}, c.List("scope"))
	assert.Nil(t, c.List("missing"))
}
