package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/playperu/stamprally/internal/app"
	"github.com/playperu/stamprally/internal/quiz"
	"github.com/playperu/stamprally/internal/stamprally"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error       string `json:"error"`
	Remediation string `json:"remediation,omitempty"`
	Log         string `json:"log,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorResponse maps domain errors to a status and user-facing body.
func errorResponse(err error) (int, ErrorResponse) {
	var perr *stamprally.PreconditionError
	switch {
	case errors.As(err, &perr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: perr.Error(), Remediation: perr.Remediation()}
	case errors.Is(err, stamprally.ErrNoReadings):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error:       stamprally.ErrNoReadings.Error(),
			Remediation: "check that device location is on, then retry outdoors or by a window",
		}
	case errors.Is(err, stamprally.ErrSpotNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "spot not found"}
	case errors.Is(err, stamprally.ErrQuizLocked):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Remediation: "unlock the spot on site first"}
	case errors.Is(err, app.ErrQuizNotStarted), errors.Is(err, quiz.ErrFinished):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Remediation: "start the quiz again"}
	case errors.Is(err, stamprally.ErrInvalidReading):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, quiz.ErrInvalidChoice):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
}

func writeAppError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}
