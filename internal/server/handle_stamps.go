package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/playperu/stamprally/internal/stamprally"
)

type StampBookResponse struct {
	Count  int                      `json:"count"`
	Total  int                      `json:"total"`
	Badge  string                   `json:"badge,omitempty"`
	Stamps []stamprally.StampRecord `json:"stamps"`
}

type NewPlayerResponse struct {
	PlayerID string `json:"playerId"`
}

func handleStamps() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		book := playerApp(r).StampBook()
		stamps := book.Stamps
		if stamps == nil {
			stamps = []stamprally.StampRecord{}
		}
		writeJSON(w, http.StatusOK, StampBookResponse{
			Count:  len(stamps),
			Total:  book.Total,
			Badge:  book.Badge,
			Stamps: stamps,
		})
	}
}

// handleNewPlayer hands out an identity for the device to keep locally.
// The stamp document is created lazily on first use.
func handleNewPlayer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, NewPlayerResponse{PlayerID: uuid.New().String()})
	}
}
