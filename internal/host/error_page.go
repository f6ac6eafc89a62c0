package host

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/labstack/echo/v4"
)

const ErrorPagePath string = "/Error"

// developerErrorHandler shows the error details, as an html page or as JSON for API
// requests. It is only installed in development.
func developerErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		message := http.StatusText(status)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			message = fmt.Sprint(he.Message)
		}
		data := map[string]any{
			"status":    status,
			"message":   message,
			"details":   err.Error(),
			"method":    c.Request().Method,
			"path":      c.Request().URL.Path,
			"requestID": correlation.ID(c),
		}
		var renderErr error
		if wantsJSON(c) {
			renderErr = c.JSON(status, data)
		} else {
			renderErr = c.Render(status, "error", data)
		}
		if renderErr != nil {
			slog.Error("rendering the developer error page failed", "error", renderErr, "requestID", correlation.ID(c))
			e.DefaultHTTPErrorHandler(err, c)
		}
	}
}

func wantsJSON(c echo.Context) bool {
	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		return true
	}
	accept := c.Request().Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, echo.MIMEApplicationJSON) && !strings.Contains(accept, echo.MIMETextHTML)
}

func errorPage(c echo.Context) error {
	return c.Render(http.StatusOK, "error", map[string]any{
		"status":  http.StatusInternalServerError,
		"message": "An error occurred while processing your request.",
	})
}
