package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hearthlabs/memoryd/internal/engineerr"
)

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return engineerr.Wrap(engineerr.InvalidInput, err, "decode request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error struct {
		Kind          string `json:"kind"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := engineerr.KindOf(err)
	status := engineerr.HTTPStatus(kind)

	body := errorBody{}
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	var engineErr *engineerr.Error
	if errors.As(err, &engineErr) {
		body.Error.CorrelationID = engineErr.CorrelationID
	}
	writeJSON(w, status, body)
}
