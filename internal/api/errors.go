package api

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"fieldconfig-backend/internal/gateway"
	"fieldconfig-backend/internal/schema"
	"fieldconfig-backend/internal/session"
	"fieldconfig-backend/internal/template"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func InvalidPayload(msg string) *AppError {
	return NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, msg)
}

func NotFound(what, id string) *AppError {
	return NewAppError("NOT_FOUND", fiber.StatusNotFound, fmt.Sprintf("%s not found: %s", what, id))
}

func Unauthorized(msg string) *AppError {
	return NewAppError("UNAUTHORIZED", fiber.StatusUnauthorized, msg)
}

// ValidationFailed converts ozzo validation errors into field details.
func ValidationFailed(err error) *AppError {
	appErr := NewAppError("VALIDATION_FAILED", fiber.StatusUnprocessableEntity, "Validation failed")
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, fe := range verrs {
			appErr.Details = append(appErr.Details, ErrorDetail{Field: field, Message: fe.Error()})
		}
		return appErr
	}
	appErr.Details = []ErrorDetail{{Message: err.Error()}}
	return appErr
}

// MapError translates domain errors into HTTP errors. Unknown errors pass
// through unchanged.
func MapError(err error) error {
	var appErr *AppError
	if err == nil || errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, session.ErrUnsavedChanges):
		return NewAppError("UNSAVED_CHANGES", fiber.StatusConflict, "Unsaved changes would be discarded; retry with force=true")
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrInvalidToken):
		return Unauthorized("Invalid or expired session")
	case errors.Is(err, template.ErrIndexOutOfRange):
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, err.Error())
	case errors.Is(err, template.ErrInvalidUpload):
		return NewAppError("INVALID_UPLOAD", fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, schema.ErrMalformedDocument), errors.Is(err, schema.ErrUnrecognizedShape):
		return NewAppError("INVALID_SCHEMA", fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gateway.ErrRemote):
		return NewAppError("REMOTE_ERROR", fiber.StatusBadGateway, err.Error())
	}
	return err
}

// ErrorHandler renders every error as an ErrorResponse.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		err = MapError(err)

		var appErr *AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{Error: &AppError{
				Code:    "HTTP_ERROR",
				Message: fiberErr.Message,
			}})
		}

		log.Error("request failed", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		}})
	}
}
