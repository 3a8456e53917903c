// Package auth verifies bearer tokens presented to the callable endpoint.
//
// Tokens are HS256 JWTs checked against the configured audiences and issuer.
// The verified subject becomes the caller's UID in the callable request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/theroutercompany/rcfunctions/internal/callable"
	"github.com/theroutercompany/rcfunctions/pkg/config"
)

var (
	// ErrNoCredentials is returned when the request carries no Authorization header.
	ErrNoCredentials = errors.New("missing authorization header")
	// ErrMalformedHeader is returned for anything other than "Bearer <token>".
	ErrMalformedHeader = errors.New("malformed authorization header")
	// ErrInvalidToken wraps every signature, expiry, audience or issuer failure.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrNoSubject is returned for otherwise valid tokens without a sub claim.
	ErrNoSubject = errors.New("token has no subject")
)

// Principal is a verified caller.
type Principal struct {
	Subject string
	Token   string
}

// Authenticator validates JWT bearer tokens. It implements callable.Verifier.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

var _ callable.Verifier = (*Authenticator)(nil)

// New constructs an authenticator from configuration.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret not configured")
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if len(cfg.Audiences) > 0 {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audiences...))
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Authenticator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Authenticate resolves the principal behind the request's bearer token.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	raw, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, a.key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrNoSubject
	}

	return &Principal{Subject: claims.Subject, Token: raw}, nil
}

// Verify maps the principal onto the callable auth context.
func (a *Authenticator) Verify(r *http.Request) (*callable.AuthContext, error) {
	p, err := a.Authenticate(r)
	if err != nil {
		return nil, err
	}
	return &callable.AuthContext{UID: p.Subject, Token: p.Token}, nil
}

func (a *Authenticator) key(*jwt.Token) (interface{}, error) {
	return a.secret, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMalformedHeader
	}
	return token, nil
}
