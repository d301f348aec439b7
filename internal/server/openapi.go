package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/stamprally/internal/stamprally"
)

// healthStatus documents one entry of the /healthz body.
type healthStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

type spotPath struct {
	Player string `path:"player"`
	SpotID string `path:"spotID"`
}

type playerPath struct {
	Player string `path:"player"`
}

type readingsRequest struct {
	Player   string                  `path:"player"`
	SpotID   string                  `path:"spotID"`
	Readings []stamprally.RawReading `json:"readings"`
}

type answerRequest struct {
	Player string `path:"player"`
	SpotID string `path:"spotID"`
	Choice int    `json:"choice" required:"true"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Stamp Rally API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Location-gated stamp rally: unlock spots on site, pass the quiz, collect stamps.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Reports the stamp store backends.")
	getHealthz.AddRespStructure(map[string]healthStatus{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(map[string]healthStatus{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /api/spots
	getCatalog, _ := r.NewOperationContext(http.MethodGet, "/api/spots")
	getCatalog.SetSummary("Spot catalog")
	getCatalog.SetDescription("All spots with their unlock radius. Quiz answers are not included.")
	getCatalog.AddRespStructure([]SpotSummary{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getCatalog)

	// POST /api/players
	newPlayer, _ := r.NewOperationContext(http.MethodPost, "/api/players")
	newPlayer.SetSummary("New player")
	newPlayer.SetDescription("Issues a player id. The device keeps it and uses it in every player route.")
	newPlayer.AddRespStructure(NewPlayerResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	_ = r.AddOperation(newPlayer)

	// GET /api/players/{player}/spots
	listSpots, _ := r.NewOperationContext(http.MethodGet, "/api/players/{player}/spots")
	listSpots.SetSummary("Spots for player")
	listSpots.SetDescription("Every spot with the player's unlock state and stamp.")
	listSpots.AddReqStructure(playerPath{})
	listSpots.AddRespStructure([]SpotStatusResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	listSpots.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(listSpots)

	// GET /api/players/{player}/spots/{spotID}
	getSpot, _ := r.NewOperationContext(http.MethodGet, "/api/players/{player}/spots/{spotID}")
	getSpot.SetSummary("Spot for player")
	getSpot.AddReqStructure(spotPath{})
	getSpot.AddRespStructure(SpotStatusResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getSpot.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getSpot)

	// POST /api/players/{player}/spots/{spotID}/readings
	postReadings, _ := r.NewOperationContext(http.MethodPost, "/api/players/{player}/spots/{spotID}/readings")
	postReadings.SetSummary("Verify readings")
	postReadings.SetDescription("Judges a batch of readings sampled by the device. Unlocks the spot when every gate passes.")
	postReadings.AddReqStructure(readingsRequest{})
	postReadings.AddRespStructure(UnlockResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postReadings.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postReadings.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postReadings.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	_ = r.AddOperation(postReadings)

	// GET /api/players/{player}/spots/{spotID}/locate
	locate, _ := r.NewOperationContext(http.MethodGet, "/api/players/{player}/spots/{spotID}/locate")
	locate.SetSummary("Locate over WebSocket")
	locate.SetDescription("Upgrades to a WebSocket. The host requests permission and positions from the device, " +
		"then sends a result or error message.")
	locate.AddReqStructure(spotPath{})
	locate.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	locate.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(locate)

	// POST /api/players/{player}/spots/{spotID}/quiz
	startQuiz, _ := r.NewOperationContext(http.MethodPost, "/api/players/{player}/spots/{spotID}/quiz")
	startQuiz.SetSummary("Start quiz")
	startQuiz.SetDescription("Starts or restarts the spot's quiz. The spot must be unlocked.")
	startQuiz.AddReqStructure(spotPath{})
	startQuiz.AddRespStructure(QuestionResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	startQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	startQuiz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(startQuiz)

	// POST /api/players/{player}/spots/{spotID}/quiz/answer
	postAnswer, _ := r.NewOperationContext(http.MethodPost, "/api/players/{player}/spots/{spotID}/quiz/answer")
	postAnswer.SetSummary("Answer question")
	postAnswer.SetDescription("Answers the current question. A passing run stamps the spot.")
	postAnswer.AddReqStructure(answerRequest{})
	postAnswer.AddRespStructure(AnswerResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postAnswer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postAnswer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postAnswer)

	// GET /api/players/{player}/stamps
	getStamps, _ := r.NewOperationContext(http.MethodGet, "/api/players/{player}/stamps")
	getStamps.SetSummary("Stamp book")
	getStamps.AddReqStructure(playerPath{})
	getStamps.AddRespStructure(StampBookResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getStamps)

	// GET /api/players/{player}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/players/{player}/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events for the player's unlock state transitions.")
	getEvents.AddReqStructure(playerPath{})
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	data, _ := json.MarshalIndent(newOpenAPISpec(), "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
