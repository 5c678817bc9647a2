package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const actorKey = "mrv.actor"

// Claims carried by portal access tokens.
type Claims struct {
	Role    string `json:"role"`
	Address string `json:"addr,omitempty"`
	jwt.RegisteredClaims
}

// TokenParser validates HS256 bearer tokens.
type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret string) *TokenParser {
	return &TokenParser{secret: []byte(secret)}
}

// Parse validates a token and returns the actor it names.
func (p *TokenParser) Parse(raw string) (Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, err
	}
	actor := Actor{ID: claims.Subject, Role: Role(claims.Role), Address: claims.Address}
	if actor.ID == "" || !actor.Role.Valid() {
		return Actor{}, errors.New("token is missing subject or role")
	}
	return actor, nil
}

// Sign issues a token for actor. Used by tests and the operator CLI.
func (p *TokenParser) Sign(actor Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.ID
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             string(actor.Role),
		Address:          actor.Address,
		RegisteredClaims: claims,
	})
	return tok.SignedString(p.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// actor on the gin context. An access_token query parameter is accepted for
// websocket upgrades, where browsers cannot set headers.
func (p *TokenParser) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			raw, ok = c.Query("access_token"), true
		}
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		actor, err := p.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(c *gin.Context) Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(Actor); ok {
			return actor
		}
	}
	return Actor{}
}

// WithActor stores actor on the context. Handler tests use it in place of Middleware.
func WithActor(c *gin.Context, actor Actor) {
	c.Set(actorKey, actor)
}
