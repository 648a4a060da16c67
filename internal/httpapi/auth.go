package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenAudience = "gtaskfs"
	scopeRead     = "docs:read"
	scopeWrite    = "docs:write"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type tokenClaims struct {
	Subject string
	Scopes  map[string]struct{}
}

type jwtClaims struct {
	Scopes any `json:"scopes"`
	jwt.RegisteredClaims
}

func authorizeBearer(authHeader, jwtSecret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	return authorizeToken(strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")), jwtSecret, requiredScope, now)
}

func authorizeToken(raw, jwtSecret, requiredScope string, now time.Time) (tokenClaims, *authError) {
	claims, err := parseToken(raw, jwtSecret, now)
	if err != nil {
		return tokenClaims{}, err
	}
	if requiredScope != "" {
		if _, ok := claims.Scopes[requiredScope]; !ok {
			return tokenClaims{}, &authError{
				status:  403,
				code:    "forbidden",
				message: "missing required scope: " + requiredScope,
			}
		}
	}
	return claims, nil
}

func parseToken(raw, jwtSecret string, now time.Time) (tokenClaims, *authError) {
	if raw == "" {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	var claims jwtClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return tokenClaims{}, &authError{status: 401, code: "unauthorized", message: tokenErrorMessage(err)}
	}
	scopes := parseScopes(claims.Scopes)
	if len(scopes) == 0 {
		return tokenClaims{}, &authError{status: 403, code: "forbidden", message: "no scopes granted"}
	}
	return tokenClaims{Subject: claims.Subject, Scopes: scopes}, nil
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "invalid jwt format"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "jwt signature mismatch"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing exp claim"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid aud claim"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unsupported jwt algorithm"
	}
	return "invalid token"
}

// IssueToken signs a token for subject with the given scopes.
func IssueToken(jwtSecret, subject string, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwtClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

func parseScopes(v any) map[string]struct{} {
	out := map[string]struct{}{}
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			if scope, ok := item.(string); ok && scope != "" {
				out[scope] = struct{}{}
			}
		}
	case []string:
		for _, scope := range typed {
			if scope != "" {
				out[scope] = struct{}{}
			}
		}
	case string:
		for _, scope := range strings.Fields(typed) {
			out[scope] = struct{}{}
		}
	}
	return out
}
