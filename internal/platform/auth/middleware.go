package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Options configures token verification.
type Options struct {
	// SigningKey is the HMAC key used to verify tokens. Required.
	SigningKey []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Audience, when set, must appear in the token's aud claim.
	Audience string
}

var errMissingToken = errors.New("missing bearer token")

// JWTMiddleware verifies the Authorization bearer token and stashes the
// principal in both the echo context and the request context. The
// tenant claim also lands under jwt_tenant_id so the tenant layer can
// cross-check it against the requested tenant.
func JWTMiddleware(opts Options) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed authorization header")
			}

			claims, err := parseClaims(raw, opts)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			p := Principal{
				ActorID:  claims.Subject,
				TenantID: claims.TenantID,
				Roles:    claims.Roles,
			}

			c.Set("jwt_tenant_id", p.TenantID)
			c.Set("actor_id", p.ActorID)
			c.Set("actor_roles", p.Roles)

			req := c.Request()
			c.SetRequest(req.WithContext(WithPrincipal(req.Context(), p)))

			return next(c)
		}
	}
}

func parseClaims(raw string, opts Options) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return opts.SigningKey, nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", errMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", errMissingToken
	}
	return parts[1], nil
}

// DevAuthMiddleware injects a fixed super admin principal for local
// development when no identity provider is configured. Never enabled
// outside ENV=development.
func DevAuthMiddleware(tenantID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := Principal{
				ActorID:  "dev-user",
				TenantID: tenantID,
				Roles:    []string{RoleSuperAdmin},
			}

			c.Set("jwt_tenant_id", p.TenantID)
			c.Set("actor_id", p.ActorID)
			c.Set("actor_roles", p.Roles)

			req := c.Request()
			c.SetRequest(req.WithContext(WithPrincipal(req.Context(), p)))

			return next(c)
		}
	}
}
