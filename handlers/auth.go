package handlers

import (
	"errors"
	"net/http"
	"strings"

	"agranova/models"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// ErrUnauthorized is returned for missing or unknown credentials
var ErrUnauthorized = errors.New("not authorized")

// DemoPrincipal is attached to every request when no tokens are configured
var DemoPrincipal = models.Principal{ID: "demo", Role: "demo"}

// Authenticator resolves a bearer token to a principal
type Authenticator interface {
	Authenticate(token string) (models.Principal, error)
}

// StaticTokenAuthenticator checks tokens against a fixed token to user map
type StaticTokenAuthenticator struct {
	tokens map[string]string
}

// NewStaticTokenAuthenticator creates an authenticator. An empty map enables
// demo mode where every caller is DemoPrincipal.
func NewStaticTokenAuthenticator(tokens map[string]string) *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{tokens: tokens}
}

// Authenticate implements Authenticator
func (a *StaticTokenAuthenticator) Authenticate(token string) (models.Principal, error) {
	if len(a.tokens) == 0 {
		return DemoPrincipal, nil
	}
	if token == "" {
		return models.Principal{}, ErrUnauthorized
	}
	userID, ok := a.tokens[token]
	if !ok {
		return models.Principal{}, ErrUnauthorized
	}
	return models.Principal{ID: userID, Role: "user"}, nil
}

// RequireAuth rejects requests whose bearer token does not authenticate
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := auth.Authenticate(bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			fail(c, http.StatusUnauthorized, "Not authorized to access this route")
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func principalFrom(c *gin.Context) models.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(models.Principal); ok {
			return p
		}
	}
	return DemoPrincipal
}
