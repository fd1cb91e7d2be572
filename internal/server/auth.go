package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/contentops/tailor/config"
)

// AuthHandler guards the API with the configured service credentials. Callers
// either send Basic auth on every request or trade it for a JWT at
// /api/auth/token and use Bearer auth from then on.
type AuthHandler struct {
	Config config.ServerConfig
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/token", a.token)
}

// token exchanges valid Basic credentials for a signed JWT.
func (a *AuthHandler) token(c echo.Context) error {
	username, password, ok := c.Request().BasicAuth()
	if !ok || !a.checkCredentials(username, password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if a.Config.JWTSecret == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt secret not configured")
	}
	ttl := a.Config.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	signed, err := signJWT(username, []byte(a.Config.JWTSecret), ttl)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set("Authorization", "Bearer "+signed)
	return c.JSON(http.StatusOK, map[string]string{"token": signed})
}

func (a *AuthHandler) checkCredentials(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.Config.AuthUsername)) != 1 {
		return false
	}
	if hash := a.Config.AuthPasswordHash; hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.Config.AuthPassword)) == 1
}

// Middleware accepts either Basic credentials or a Bearer token issued by
// the token endpoint.
func (a *AuthHandler) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if username, password, ok := c.Request().BasicAuth(); ok {
			if a.checkCredentials(username, password) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		// bearer tokens are only honored when a signing secret is configured;
		// an empty secret would verify any forged token.
		if tok := bearerToken(c); tok != "" && a.Config.JWTSecret != "" {
			parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
				return []byte(a.Config.JWTSecret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func signJWT(subject string, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
