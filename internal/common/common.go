package common

import (
	"taskboard-backend/internal/config"
	"taskboard-backend/internal/email"
	"taskboard-backend/internal/identity"
	"taskboard-backend/internal/invitations"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/wader/gormstore/v2"
	"gorm.io/gorm"
)

type JwtCustomClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type JwtAuth struct {
	Secret string
	Claims JwtCustomClaims
}

type JWTIssuer interface {
	GenerateToken(email string) (string, error)
	Middleware() echo.MiddlewareFunc
	GetUserEmail(c echo.Context) (string, error)
}

// ServerState is shared by the server and every handler. The session is an
// explicit object carried through request context per call; nothing here
// is request-mutable.
type ServerState struct {
	Echo        *echo.Echo
	Config      *config.Config
	DB          *gorm.DB
	Store       *gormstore.Store
	JwtIssuer   JWTIssuer
	Redis       *redis.Client
	EmailClient email.EmailClient
	Identity    identity.Provider
	Invitations *invitations.Manager
}
