package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/drone"
	"github.com/sierrawings/backend/core/mission"
	"github.com/sierrawings/backend/core/user"
)

var (
	errUnauthorized       = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAccountDeactivated = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired     = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden      = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errEmailNotVerified   = echo.NewHTTPError(http.StatusForbidden, "email address not verified")

	// business sentinels mapped to HTTP status codes
	errStatusCodes = map[error]int{
		user.ErrAuthFailed:     http.StatusBadRequest,
		user.ErrEmailExists:    http.StatusBadRequest,
		user.ErrUsernameExists: http.StatusBadRequest,
		user.ErrOTPInvalid:     http.StatusBadRequest,
		user.ErrOTPExpired:     http.StatusBadRequest,
		user.ErrNotFound:       http.StatusNotFound,

		drone.ErrNotFound:      http.StatusNotFound,
		drone.ErrSerialExists:  http.StatusBadRequest,
		drone.ErrNotAvailable:  http.StatusConflict,
		drone.ErrInvalidStatus: http.StatusBadRequest,

		mission.ErrNotFound:               http.StatusNotFound,
		mission.ErrUnauthorized:           http.StatusForbidden,
		mission.ErrMissionClosed:          http.StatusGone,
		mission.ErrInvalidTransition:      http.StatusConflict,
		mission.ErrConcurrentModification: http.StatusConflict,
		mission.ErrNoDroneAvailable:       http.StatusConflict,
		mission.ErrClinicNotEligible:      http.StatusForbidden,
	}
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
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
				fldErrs[vErr.Field()] = vErr.Translate(translator)
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
			if status, ok := errStatusCodes[origErr]; ok {
				code = status
				message = origErr.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
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
