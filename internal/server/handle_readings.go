package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/stamprally/internal/app"
	"github.com/playperu/stamprally/internal/stamprally"
)

// ReadingsRequest carries a batch the device sampled itself.
type ReadingsRequest struct {
	Readings []stamprally.RawReading `json:"readings"`
}

// UnlockResponse reports the outcome of an unlock attempt.
type UnlockResponse struct {
	SpotID         string                        `json:"spotId"`
	Passed         bool                          `json:"passed"`
	DistanceMeters float64                       `json:"distanceMeters"`
	Reasons        []string                      `json:"reasons"`
	Guidance       []string                      `json:"guidance"`
	Position       stamprally.AggregatedPosition `json:"position"`
	Readings       int                           `json:"readings"`
	State          stamprally.UnlockState        `json:"state"`
	Unlocked       bool                          `json:"unlocked"`
	Log            string                        `json:"log,omitempty"`
}

func toUnlockResponse(att app.Attempt) UnlockResponse {
	resp := UnlockResponse{
		SpotID:         att.SpotID,
		Passed:         att.Verdict.Passed,
		DistanceMeters: att.Verdict.DistanceMeters,
		Reasons:        []string{},
		Guidance:       []string{},
		Position:       att.Position,
		Readings:       att.Readings,
		State:          att.State,
		Unlocked:       att.Unlocked,
		Log:            att.Log,
	}
	for _, reason := range att.Verdict.Reasons.List() {
		resp.Reasons = append(resp.Reasons, reason.String())
		resp.Guidance = append(resp.Guidance, reason.Guidance())
	}
	return resp
}

func handleReadings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReadingsRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		att, err := playerApp(r).VerifyReadings(chi.URLParam(r, "spotID"), req.Readings)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toUnlockResponse(att))
	}
}
