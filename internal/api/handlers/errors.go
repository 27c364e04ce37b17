package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/acme/dial-engine/pkg/errors"
)

// translateError maps domain errors to HTTP status codes.
func translateError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrThrottled):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, apperrors.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
