package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

var (
	errInvalidToken = errors.New("auth: invalid token")
	errMissingSub   = errors.New("auth: token missing sub")
)

// Verifier validates bearer tokens. Keys come either from a JWKS endpoint or
// from a shared HMAC secret, as issued by Supabase-style auth servers.
type Verifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// VerifierOption configures issuer and audience checks.
type VerifierOption func(*[]jwt.ParserOption)

// WithIssuer requires the iss claim.
func WithIssuer(issuer string) VerifierOption {
	return func(opts *[]jwt.ParserOption) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			*opts = append(*opts, jwt.WithIssuer(issuer))
		}
	}
}

// WithAudience requires the aud claim.
func WithAudience(audience string) VerifierOption {
	return func(opts *[]jwt.ParserOption) {
		if audience = strings.TrimSpace(audience); audience != "" {
			*opts = append(*opts, jwt.WithAudience(audience))
		}
	}
}

// NewJWKSVerifier fetches and refreshes signing keys from jwksURL in the
// background until ctx is done.
func NewJWKSVerifier(ctx context.Context, jwksURL string, opts ...VerifierOption) (*Verifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, errors.New("auth: jwks url must be set")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: init jwks keyfunc: %w", err)
	}
	return newVerifier(kf.Keyfunc, asymmetricMethods, opts), nil
}

// NewJWKSVerifierFromJSON uses a fixed JWK set.
func NewJWKSVerifierFromJSON(raw json.RawMessage, opts ...VerifierOption) (*Verifier, error) {
	kf, err := keyfunc.NewJWKSetJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: parse jwk set: %w", err)
	}
	return newVerifier(kf.Keyfunc, asymmetricMethods, opts), nil
}

// NewHMACVerifier validates HS256 tokens signed with secret.
func NewHMACVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: hmac secret must be set")
	}
	key := []byte(secret)
	kf := func(*jwt.Token) (any, error) { return key, nil }
	return newVerifier(kf, []string{jwt.SigningMethodHS256.Name}, opts), nil
}

var asymmetricMethods = []string{
	jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name,
	jwt.SigningMethodES256.Name, jwt.SigningMethodES384.Name,
}

func newVerifier(kf jwt.Keyfunc, methods []string, opts []VerifierOption) *Verifier {
	parserOpts := []jwt.ParserOption{
		jwt.WithLeeway(defaultLeeway),
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	for _, opt := range opts {
		opt(&parserOpts)
	}
	return &Verifier{keyfunc: kf, parser: jwt.NewParser(parserOpts...)}
}

// Verify parses and validates token.
func (v *Verifier) Verify(token string) (*Claims, error) {
	parsed, err := v.parser.Parse(token, v.keyfunc)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errInvalidToken
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}

	claims := &Claims{
		Subject: readString(mc, "sub"),
		Issuer:  readString(mc, "iss"),
		Role:    readString(mc, "role"),
		Raw:     mc,
	}
	if aud, err := mc.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if claims.Subject == "" {
		return nil, errMissingSub
	}
	return claims, nil
}

func readString(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
