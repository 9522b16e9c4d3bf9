package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bilgisen/contentgen/internal/auth"
	"github.com/bilgisen/contentgen/internal/content"
	"github.com/bilgisen/contentgen/internal/logger"
	"github.com/bilgisen/contentgen/internal/storage"
)

// Locals keys for validated input.
const (
	ValidatedKey   = "validated"
	QueryParamsKey = "queryParams"
)

// ValidationError lists the failing fields with the tag that rejected each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	return "validation failed: " + strings.Join(names, ", ")
}

// Validator is a struct that holds the validator instance
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance. Field names are reported by their json tag.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return &Validator{validate: v}
}

// Validate validates s and returns a *ValidationError for rule violations.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}

var defaultValidator = NewValidator()

// ValidateRequest parses the body into a fresh T, validates it and stores it under ValidatedKey.
func ValidateRequest[T any]() fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := new(T)
		if err := c.BodyParser(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := defaultValidator.Validate(req); err != nil {
			return err
		}
		c.Locals(ValidatedKey, req)
		return c.Next()
	}
}

// ValidateQueryParams parses the query string into a fresh T and stores it under QueryParamsKey.
func ValidateQueryParams[T any]() fiber.Handler {
	return func(c *fiber.Ctx) error {
		params := new(T)
		if err := c.QueryParser(params); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid query parameters")
		}
		if err := defaultValidator.Validate(params); err != nil {
			return err
		}
		c.Locals(QueryParamsKey, params)
		return c.Next()
	}
}

// Validated returns the body stored by ValidateRequest[T].
func Validated[T any](c *fiber.Ctx) *T {
	req, _ := c.Locals(ValidatedKey).(*T)
	if req == nil {
		req = new(T)
	}
	return req
}

// QueryParams returns the query stored by ValidateQueryParams[T].
func QueryParams[T any](c *fiber.Ctx) *T {
	params, _ := c.Locals(QueryParamsKey).(*T)
	if params == nil {
		params = new(T)
	}
	return params
}

// StatusFor maps an error returned by a handler to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	var ve *ValidationError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &ve), errors.Is(err, content.ErrInvalidType):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, storage.ErrDuplicateEmail):
		return fiber.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return fiber.StatusUnauthorized
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler is a middleware that handles errors in a consistent way
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := StatusFor(err)

	event := logger.Get().Warn()
	if code >= fiber.StatusInternalServerError {
		event = logger.Get().Error()
	}
	event.Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", code).
		Msg("HTTP error")

	var ve *ValidationError
	if errors.As(err, &ve) {
		return c.Status(code).JSON(fiber.Map{
			"error":  "Validation failed",
			"fields": ve.Fields,
		})
	}

	message := http.StatusText(code)
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		message = fe.Message
	case code < fiber.StatusInternalServerError:
		message = err.Error()
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}
