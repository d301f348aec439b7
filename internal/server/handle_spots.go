package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/stamprally/internal/app"
	"github.com/playperu/stamprally/internal/catalog"
	"github.com/playperu/stamprally/internal/stamprally"
)

// SpotSummary is the public catalog view of a spot. Quiz answers are never
// exposed.
type SpotSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Lat          float64  `json:"lat"`
	Lng          float64  `json:"lng"`
	RadiusMeters float64  `json:"radiusMeters"`
	Themes       []string `json:"themes"`
	Description  string   `json:"description"`
	Caution      string   `json:"caution,omitempty"`
	Questions    int      `json:"questions"`
}

// SpotStatusResponse is a spot as seen by one player.
type SpotStatusResponse struct {
	SpotSummary
	State         stamprally.UnlockState  `json:"state"`
	QuizAvailable bool                    `json:"quizAvailable"`
	Stamp         *stamprally.StampRecord `json:"stamp,omitempty"`
}

func toSpotSummary(s stamprally.Spot) SpotSummary {
	themes := s.Themes
	if themes == nil {
		themes = []string{}
	}
	return SpotSummary{
		ID:           s.ID,
		Name:         s.Name,
		Lat:          s.Lat,
		Lng:          s.Lng,
		RadiusMeters: s.RadiusMeters,
		Themes:       themes,
		Description:  s.Description,
		Caution:      s.Caution,
		Questions:    len(s.Quiz),
	}
}

func toSpotStatus(st app.SpotStatus) SpotStatusResponse {
	return SpotStatusResponse{
		SpotSummary:   toSpotSummary(st.Spot),
		State:         st.State,
		QuizAvailable: st.QuizAvailable,
		Stamp:         st.Stamp,
	}
}

func handleCatalog(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spots := cat.Spots()
		resp := make([]SpotSummary, 0, len(spots))
		for _, s := range spots {
			resp = append(resp, toSpotSummary(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListSpots() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := playerApp(r).Spots()
		resp := make([]SpotStatusResponse, 0, len(statuses))
		for _, st := range statuses {
			resp = append(resp, toSpotStatus(st))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetSpot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := playerApp(r).Spot(chi.URLParam(r, "spotID"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSpotStatus(st))
	}
}
