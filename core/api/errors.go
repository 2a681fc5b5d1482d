package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"listing-bot/core/listings"
)

// errorBody is the error shape of every endpoint: {message, error}.
type errorBody struct {
	status  int
	Message string `json:"message"`
	Err     string `json:"error,omitempty"`
}

func (e *errorBody) Error() string  { return e.Message }
func (e *errorBody) GetStatus() int { return e.status }

func init() {
	huma.NewError = newError
}

// newError replaces huma's problem+json errors. Request schema violations
// are reported as 400.
func newError(status int, msg string, errs ...error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}

	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	return &errorBody{status: status, Message: msg, Err: strings.Join(details, "; ")}
}

func humaErr(ctx context.Context, msg string, err error) error {
	var validationErr *listings.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return huma.Error400BadRequest(msg, err)
	case errors.Is(err, listings.ErrNotFound):
		return huma.Error404NotFound("Запись не найдена", err)
	case errors.Is(err, context.Canceled):
		return huma.NewError(499, "request canceled")
	}

	slog.ErrorContext(ctx, msg, "err", err)
	return huma.Error500InternalServerError(msg, err)
}
