package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/teamcart/internal/domain/domainerr"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errMalformedBody = errors.New("malformed request body")

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// statusOf maps a business error kind to its HTTP status.
func statusOf(kind domainerr.Kind) int {
	switch kind {
	case domainerr.KindValidation:
		return http.StatusUnprocessableEntity
	case domainerr.KindForbidden:
		return http.StatusForbidden
	case domainerr.KindConflict, domainerr.KindExhausted:
		return http.StatusConflict
	case domainerr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errMalformedBody):
		writeErrorCode(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, errNoUser):
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	var de *domainerr.Error
	if errors.As(err, &de) {
		status := statusOf(de.Kind)
		if status == http.StatusInternalServerError {
			zctx.From(r.Context()).Error("Unclassified business error", zap.Error(err))
		}
		writeErrorCode(w, status, de.Code, de.Message)
		return
	}

	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	writeErrorCode(w, http.StatusInternalServerError, "internal", "internal server error")
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(errMalformedBody, err.Error())
	}
	return nil
}
