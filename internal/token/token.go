// Package token issues and verifies short-lived HS256 service credentials
// for service-to-service calls. Exactly one signing algorithm is supported;
// anything else is a hard failure rather than a silent downgrade.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the only signing algorithm this issuer accepts.
const Algorithm = "HS256"

var (
	// ErrMalformed: token is not three dot-separated segments or otherwise
	// structurally broken.
	ErrMalformed = errors.New("token malformed")
	// ErrSignature: signature does not verify against the shared secret.
	ErrSignature = errors.New("token signature mismatch")
	// ErrAlgorithm: token or options request an unsupported algorithm.
	ErrAlgorithm = errors.New("unsupported signing algorithm")
	// ErrDecode: header or payload segment is not decodable.
	ErrDecode = errors.New("token segment undecodable")
	// ErrExpired: exp is at or before now.
	ErrExpired = errors.New("token expired")
)

// IssueOptions controls issuance. Zero values mean HS256 and a 1h lifetime.
type IssueOptions struct {
	Algorithm string
	TTL       time.Duration
}

// VerifyOptions controls verification.
type VerifyOptions struct {
	Algorithm        string
	IgnoreExpiration bool
}

// Issue signs claims with secret. iat and exp are populated automatically
// unless the caller already supplied them.
func Issue(claims map[string]any, secret []byte, opts IssueOptions) (string, error) {
	if opts.Algorithm != "" && opts.Algorithm != Algorithm {
		return "", fmt.Errorf("%w: %s", ErrAlgorithm, opts.Algorithm)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	now := time.Now()
	if _, ok := mc["iat"]; !ok {
		mc["iat"] = now.Unix()
	}
	if _, ok := mc["exp"]; !ok {
		mc["exp"] = now.Add(ttl).Unix()
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}

// Verify parses and validates a token, returning its claims. Failures map to
// the distinguishable sentinel errors above.
func Verify(tokenStr string, secret []byte, opts VerifyOptions) (map[string]any, error) {
	if opts.Algorithm != "" && opts.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithm, opts.Algorithm)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{Algorithm})}
	if opts.IgnoreExpiration {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %s", ErrAlgorithm, t.Method.Alg())
		}
		return secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrDecode
	}
	return claims, nil
}

// IssueServiceToken issues a credential identifying serviceName, merging any
// extra claims the caller provides.
func IssueServiceToken(serviceName string, secret []byte, extra map[string]any, opts IssueOptions) (string, error) {
	claims := map[string]any{
		"service": serviceName,
		"type":    "service",
	}
	for k, v := range extra {
		claims[k] = v
	}
	return Issue(claims, secret, opts)
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrAlgorithm):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrDecode, err)
	default:
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
}
