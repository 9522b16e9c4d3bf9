package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/bilgisen/contentgen/internal/auth"
	"github.com/bilgisen/contentgen/internal/logger"
)

// UserIDKey is the Locals key holding the authenticated user id.
const UserIDKey = "userId"

var errMissingToken = errors.New("missing bearer token")

// AuthConfig defines the config for the auth middleware
type AuthConfig struct {
	// Next defines a function to skip middleware.
	// Optional. Default: nil
	Next func(c *fiber.Ctx) bool

	// Validator checks the bearer token and returns the user id it belongs to.
	// Required.
	Validator func(token string) (string, error)

	// ErrorHandler defines a function which is executed for an invalid token.
	// Optional. Default: 401 Invalid or missing token
	ErrorHandler fiber.ErrorHandler

	// ContextKey is the key used to store the user id in the context.
	// Optional. Default: "userId"
	ContextKey string

	// Header is the header key where to get the token from.
	// Optional. Default: "Authorization"
	Header string
}

// ConfigDefault is the default config
var ConfigDefault = AuthConfig{
	Next: nil,
	ErrorHandler: func(c *fiber.Ctx, err error) error {
		logger.Get().Warn().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Err(err).
			Msg("Authentication failed")

		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or missing token",
		})
	},
	ContextKey: UserIDKey,
	Header:     fiber.HeaderAuthorization,
}

// NewAuth creates a new middleware handler
func NewAuth(config AuthConfig) fiber.Handler {
	cfg := config
	if cfg.Validator == nil {
		panic("middleware: auth validator is required")
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = ConfigDefault.ErrorHandler
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = ConfigDefault.ContextKey
	}
	if cfg.Header == "" {
		cfg.Header = ConfigDefault.Header
	}

	return func(c *fiber.Ctx) error {
		// Don't execute middleware if Next returns true
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		token, ok := bearerToken(c.Get(cfg.Header))
		if !ok {
			return cfg.ErrorHandler(c, errMissingToken)
		}

		userID, err := cfg.Validator(token)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, userID)
		return c.Next()
	}
}

// JWT authenticates requests with access tokens issued by svc.
func JWT(svc *auth.Service) fiber.Handler {
	return NewAuth(AuthConfig{
		Validator: func(token string) (string, error) {
			claims, err := svc.ParseToken(token)
			if err != nil {
				return "", err
			}
			return claims.Subject, nil
		},
	})
}

// UserID returns the authenticated user id, or "" outside the auth middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserIDKey).(string)
	return id
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// AdminOnly is a middleware that checks if the request is from an admin
func AdminOnly(adminKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			logger.Get().Warn().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("Admin access attempt without API key")

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key is required",
			})
		}

		// An unset admin key locks the admin routes.
		if adminKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(adminKey)) != 1 {
			logger.Get().Warn().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("Unauthorized admin access attempt")

			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}

		return c.Next()
	}
}
