package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"LiquidityBridge/internal/ledger"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var errUnauthenticated = errors.New("authentication required")

type principalKey struct{}

func withPrincipal(ctx context.Context, p ledger.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (ledger.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(ledger.Principal)
	return p, ok && p != ""
}

func requirePrincipal(ctx context.Context) (ledger.Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, errUnauthenticated.Error())
	}
	return p, nil
}

// Authenticator validates HS256 bearer tokens. The token subject is the
// caller's principal.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate parses an Authorization header value ("Bearer <jwt>").
func (a *Authenticator) Authenticate(header string) (ledger.Principal, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errUnauthenticated
	}

	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("invalid token: missing subject")
	}
	return ledger.Principal(sub), nil
}

// IssueToken signs a token for sub, valid for ttl.
func (a *Authenticator) IssueToken(sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

// contextFor attaches the principal carried by header. An absent header
// leaves the context anonymous; a present but invalid one is rejected.
func (a *Authenticator) contextFor(ctx context.Context, header string) (context.Context, error) {
	if header == "" {
		return ctx, nil
	}
	p, err := a.Authenticate(header)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return withPrincipal(ctx, p), nil
}

// UnaryInterceptor authenticates the "authorization" metadata entry.
func (a *Authenticator) UnaryInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("authorization"); len(v) > 0 {
			header = v[0]
		}
	}
	ctx, err := a.contextFor(ctx, header)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}
