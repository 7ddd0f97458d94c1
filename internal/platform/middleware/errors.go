package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperror"
)

// errorBody is the JSON envelope for rejected operations.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorHandler converts errors escaping handlers into structured JSON
// responses. Classified domain errors keep their kind; echo HTTP errors pass
// through; anything else becomes a 500 without leaking internals.
func ErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		if he, ok := err.(*echo.HTTPError); ok {
			_ = c.JSON(he.Code, errorBody{Kind: "http", Message: he.Error()})
			return
		}

		kind := apperror.KindOf(err)
		status := apperror.HTTPStatus(err)
		msg := err.Error()
		if kind == apperror.KindInternal {
			msg = "internal server error"
		}
		_ = c.JSON(status, errorBody{Kind: kind.String(), Message: msg})
	}
}
