package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/db"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/store"
)

const (
	tokenIssuer = "inres-oncall"
	// ActorIDKey is the gin context key holding the authenticated actor id.
	ActorIDKey = "actor_id"
)

// IssueToken signs an HS256 token whose subject is the actor's chat id.
func IssueToken(secret string, actorID int64, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(actorID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates raw and returns the actor id in its subject.
func ParseToken(secret, raw string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("invalid token: %w", err)
	}
	id, err := db.ParseActorID(claims.Subject)
	if err != nil {
		return 0, fmt.Errorf("invalid token subject: %w", err)
	}
	return id, nil
}

// AuthMiddleware guards the status API with bearer tokens.
type AuthMiddleware struct {
	secret string
	store  store.Store
	authz  authz.Authorizer
	logger *zap.Logger
}

func NewAuthMiddleware(secret string, st store.Store, az authz.Authorizer, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: secret, store: st, authz: az, logger: observability.OrNop(logger)}
}

// RequireStaff admits admins and leads only.
func (m *AuthMiddleware) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		actorID, err := ParseToken(m.secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		actor, err := m.store.GetUser(c.Request.Context(), actorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			m.logger.Error("failed to load token actor", zap.Int64("actor_id", actorID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load actor"})
			return
		}
		if d := m.authz.Authorize(actorID, actor, authz.ActionViewIncidents); !d.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": d.Reason})
			return
		}

		c.Set(ActorIDKey, actorID)
		c.Next()
	}
}
