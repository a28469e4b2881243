package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-image-resizer/backend"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxJSONBody     = 1 << 20
)

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSONError writes the {success:false, message} body the extension expects
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, backend.ErrorResponse{Success: false, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	return dec.Decode(v)
}
