package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/setevik/sosdesk/internal/incident"
	"github.com/setevik/sosdesk/internal/store"
)

const maxBodyBytes = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDeskError maps desk and store errors onto HTTP statuses.
func writeDeskError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, incident.ErrInvalidTransition), errors.Is(err, incident.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, incident.ErrUnknownType), errors.Is(err, incident.ErrUnknownStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
