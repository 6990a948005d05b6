package apperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

type body struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusWord(status int) string {
	if status >= 400 && status < 500 {
		return "fail"
	}
	return "error"
}

// HTTPErrorHandler renders operational errors with their code and message
// and hides everything else behind an opaque 500.
func HTTPErrorHandler(l *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var ae *Error
		if errors.As(err, &ae) && ae.Operational() {
			_ = c.JSON(ae.Status(), body{
				Status:  statusWord(ae.Status()),
				Code:    ae.Code(),
				Message: ae.Message,
			})
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			_ = c.JSON(he.Code, body{
				Status:  statusWord(he.Code),
				Code:    http.StatusText(he.Code),
				Message: msg,
			})
			return
		}

		l.Error("unexpected error", "method", c.Request().Method, "path", c.Path(), "error", err)
		_ = c.JSON(http.StatusInternalServerError, body{
			Status:  "error",
			Code:    "INTERNAL",
			Message: "something went very wrong",
		})
	}
}
