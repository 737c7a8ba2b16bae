package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	BindingCode        = "400001"
	ValidationCode     = "400002"
	InvalidSkuCode     = "400003"
	EntityNotFoundCode = "404004"
	ConflictCode       = "409001"
	InternalCode       = "000000"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Info    string `json:"info"`
}

type appError struct {
	Raw       error
	HTTPCode  int
	ErrorCode string
	Message   string
}

func (e appError) Error() string {
	if e.Raw == nil {
		return e.Message
	}

	return e.Message + ": " + e.Raw.Error()
}

func (e appError) Unwrap() error { return e.Raw }

func errInvalidRequest(err error) appError {
	return appError{Raw: err, HTTPCode: http.StatusBadRequest, ErrorCode: BindingCode, Message: "Invalid request"}
}

func errInvalidParam(err error) appError {
	return appError{Raw: err, HTTPCode: http.StatusBadRequest, ErrorCode: ValidationCode, Message: "Invalid param"}
}

func errInvalidSku(err error) appError {
	return appError{Raw: err, HTTPCode: http.StatusBadRequest, ErrorCode: InvalidSkuCode, Message: "Invalid sku"}
}

func errNotFound(err error) appError {
	return appError{Raw: err, HTTPCode: http.StatusNotFound, ErrorCode: EntityNotFoundCode, Message: "not found"}
}

func errConflict(err error) appError {
	return appError{Raw: err, HTTPCode: http.StatusConflict, ErrorCode: ConflictCode, Message: "already exists"}
}

func (s *Server) error(c echo.Context, err error) error {
	s.logger.ErrorContext(c.Request().Context(), "request failed",
		"err", err,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	var appErr appError
	if !errors.As(err, &appErr) {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    InternalCode,
			Message: "Internal Server Error",
			Info:    err.Error(),
		})
	}

	var info string
	if appErr.Raw != nil {
		info = appErr.Raw.Error()
	}

	return c.JSON(appErr.HTTPCode, ErrorResponse{
		Code:    appErr.ErrorCode,
		Message: appErr.Message,
		Info:    info,
	})
}
