package security

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"golang.org/x/crypto/bcrypt"
)

// CheckOpsToken compares a presented bearer token against its stored bcrypt
// hash.
func CheckOpsToken(tokenHash, token string) bool {
	if tokenHash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) == nil
}

// HashOpsToken produces the bcrypt hash to store in OPS_TOKEN_HASH.
func HashOpsToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// OpsAuth guards mutating ops endpoints with a bearer token. With no hash
// configured every request is rejected; the read-only endpoints stay open.
func OpsAuth(tokenHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if !CheckOpsToken(tokenHash, token) {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Unauthorized",
				})
			}
			return next(c)
		}
	}
}
