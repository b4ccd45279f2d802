package httpapi

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/John-Robertt/submerge-go/internal/corecache"
	"github.com/John-Robertt/submerge-go/internal/corerun"
	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/render"
	"github.com/John-Robertt/submerge-go/internal/sub"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func requestError(code, message, hint string) error {
	return apiError(http.StatusBadRequest, model.AppError{
		Code:    code,
		Message: message,
		Stage:   "validate_request",
		Hint:    hint,
	}, nil)
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var ae *APIError
	if errors.As(err, &ae) {
		WriteError(w, ae.Status, ae.AppError)
		return
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		WriteError(w, fe.Status, fe.AppError)
		return
	}

	// Subscription content problems are the client's problem => 422.
	var se *sub.ParseError
	if errors.As(err, &se) {
		WriteError(w, http.StatusUnprocessableEntity, se.AppError)
		return
	}

	var re *render.RenderError
	if errors.As(err, &re) {
		WriteError(w, http.StatusUnprocessableEntity, re.AppError)
		return
	}

	// Core acquisition failures are our side of the fence => 502.
	var cce *corecache.CacheError
	if errors.As(err, &cce) {
		WriteError(w, http.StatusBadGateway, cce.AppError)
		return
	}

	var cre *corerun.ConvertError
	if errors.As(err, &cre) {
		WriteError(w, http.StatusUnprocessableEntity, cre.AppError)
		return
	}

	// Fallback: internal bug. Untyped errors routinely wrap os errors whose
	// text carries filesystem paths, so the detail stays in the server log
	// and the client gets only the generic payload.
	log.Printf("internal error: %v", err)
	WriteError(w, http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "服务端内部错误",
		Stage:   "internal",
	})
}
