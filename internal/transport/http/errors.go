package httptransport

import (
	"encoding/json"
	"net/http"

	dErrors "custodia/pkg/domain-errors"
)

// errorBody is the JSON error envelope shared by all endpoints.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodePermissionDenied, dErrors.CodeActionDisabled:
		return http.StatusForbidden
	case dErrors.CodeNotFound, dErrors.CodeNotRegistered:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodePolicyDenied, dErrors.CodePreconditionFailed,
		dErrors.CodeInvestorCapExceeded, dErrors.CodeRoundCapExceeded,
		dErrors.CodeInvalidPurchaseStatus, dErrors.CodeRefundNotAvailableYet:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError centralizes domain error translation to HTTP responses so
// every endpoint returns the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, statusForCode(code), errorBody{
		Error:   string(code),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
