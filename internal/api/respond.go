package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/core"
	"chatbotmaker.dev/chatbot-maker/internal/llm"
)

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes {field: message}. Routes differ in the field name their clients read.
func Error(w http.ResponseWriter, status int, field, message string) {
	JSON(w, status, map[string]string{field: message})
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindInvalidInput, core.KindConflict, core.KindInvalidCredential:
		return http.StatusBadRequest
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error to a response. Internal causes are
// logged, never sent.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, field string) {
	var serr *llm.StatusError
	if errors.As(err, &serr) {
		details := serr.Details
		if details == nil {
			details = serr.Body
		}
		JSON(w, http.StatusBadGateway, map[string]any{
			"error":   "AI request failed",
			"details": details,
			"status":  serr.StatusCode,
		})
		return
	}

	kind := core.KindOf(err)
	if kind == core.KindInternal || kind == core.KindMisconfigured {
		h.log.Error("request failed", zap.Error(err))
	}
	Error(w, statusFor(kind), field, core.MessageOf(err, "Internal Server Error"))
}

// decode reads a JSON body into v and runs struct validation.
func (h *APIHandler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.InvalidInput("Invalid request body")
	}
	if err := h.validate.Struct(v); err != nil {
		return core.InvalidInput(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}
	fe := verrs[0]
	name := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", name)
	}
}
