package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/stock-ledger/ledger"
)

// statusFor maps the ledger error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindConflictLocked, ledger.KindInsufficientInventory, ledger.KindIdentityConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError renders err. Internal errors are logged with the request
// id and reported without details.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: ledger.Code(err)}

	var (
		ve *ledger.ValidationError
		ie *ledger.InsufficientInventoryError
	)
	switch {
	case errors.As(err, &ve) && ve.Field != "":
		resp.Details = map[string]string{"field": ve.Field}
	case errors.As(err, &ie):
		resp.Details = map[string]any{
			"productId": ie.ProductID,
			"requested": ie.Requested,
			"available": ie.Available,
		}
	}

	if status == http.StatusInternalServerError {
		log.Printf("[%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON object body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var ve *ledger.ValidationError
		if errors.As(err, &ve) {
			writeLedgerError(w, r, err)
			return false
		}
		writeError(w, http.StatusBadRequest, ledger.CodeInvalidPayload, "request body must be a valid JSON object", err)
		return false
	}
	return true
}
