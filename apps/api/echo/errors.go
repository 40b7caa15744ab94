package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/core/club"
	"github.com/trezcool/chessclub/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			code, message = domainErrorStatus(errors.Cause(err))
			if code != http.StatusInternalServerError {
				break
			}

			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var username string
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				username = claims.Username
			}
			logger.Error(msg, errors.Wrap(err, msg), username)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// domainErrorStatus maps the core sentinel errors onto HTTP statuses.
// Anything unknown stays a server error.
func domainErrorStatus(err error) (int, interface{}) {
	switch err {
	case club.ErrStudentNotFound, club.ErrGroupNotFound, club.ErrPaymentNotFound,
		club.ErrRequestNotFound, club.ErrSessionNotFound, user.ErrNotFound:
		return http.StatusNotFound, err.Error()
	case club.ErrSessionClosed, club.ErrRequestResolved, club.ErrCodeExists:
		return http.StatusConflict, err.Error()
	case club.ErrNotMember, club.ErrInvalidStatus, user.ErrInvalidCredentials:
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, nil
}
