package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"tasks-api/domain"
)

const bearerPrefix = "Bearer "

func bearerTokenFromHeader(header http.Header) (string, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return "", domain.ErrMissingToken
	}
	return bearerTokenFromString(values[0])
}

// bearerTokenFromString accepts "Bearer <jwt>". A blank header or another scheme counts as
// a missing token; a bearer value that is not three dot-separated segments is invalid.
func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", domain.ErrMissingToken
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return "", domain.ErrMissingToken
	}
	token := trimmed[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", domain.ErrInvalidToken
	}
	return token, nil
}
