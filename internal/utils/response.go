package utils

import (
	"encoding/json"
	"net/http"
	"time"

	"ms-checkout/internal/apperr"
	"ms-checkout/internal/logger"
)

type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      apperr.Code `json:"code,omitempty"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorResponse maps err onto its code. Causes of internal and provider errors are not exposed.
func ErrorResponse(err error) (int, APIResponse) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)

	resp := APIResponse{
		Success:   false,
		Message:   meta.PublicMessage,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}
	if typed := apperr.As(err); typed != nil && code != apperr.CodeInternal && code != apperr.CodeProvider {
		resp.Error = typed.Message()
		if meta.DetailsAllowed {
			resp.Details = typed.Details()
		}
	}
	return meta.HTTPStatus, resp
}

func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteError(w http.ResponseWriter, log *logger.Logger, category string, err error) {
	status, resp := ErrorResponse(err)
	if status >= http.StatusInternalServerError {
		log.Error(category, err.Error())
	} else {
		log.Debug(category, err.Error())
	}
	if apperr.MetadataFor(resp.Code).Retryable {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, resp)
}
