package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/stamprally/internal/app"
	"github.com/playperu/stamprally/internal/catalog"
	"github.com/playperu/stamprally/internal/database"
	"github.com/playperu/stamprally/internal/handler/health"
	"github.com/playperu/stamprally/internal/migrations"
	"github.com/playperu/stamprally/internal/stamprally"
	"github.com/playperu/stamprally/internal/stamps"
)

const (
	spotLat = 36.3400
	spotLng = 139.4500
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	q := []stamprally.Question{
		{Prompt: "Founded when?", Choices: []string{"Muromachi", "Edo"}, CorrectIndex: 0, Explanation: "e1"},
		{Prompt: "Who restored it?", Choices: []string{"Tokugawa", "Uesugi"}, CorrectIndex: 1, Explanation: "e2"},
		{Prompt: "What was taught?", Choices: []string{"Confucianism", "Rangaku"}, CorrectIndex: 0, Explanation: "e3"},
	}
	c, err := catalog.New([]stamprally.Spot{
		{ID: "gakko", Name: "Ashikaga Gakko", Lat: spotLat, Lng: spotLng, RadiusMeters: 50, Themes: []string{"history"}, Quiz: q},
		{ID: "bannaji", Name: "Bannaji", Lat: 36.3380, Lng: 139.4540, RadiusMeters: 80, Quiz: q},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func testBackend(t *testing.T) stamps.Backend {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return stamps.NewSQLiteBackend(db)
}

func testDeps(t *testing.T, backend stamps.Backend) Deps {
	t.Helper()
	cat := testCatalog(t)
	opts := app.DefaultOptions()
	opts.SampleInterval = time.Millisecond
	opts.Sampler.Timeout = 2 * time.Second
	opts.Sampler.Grace = 100 * time.Millisecond

	broker := NewBroker()
	return Deps{
		Catalog: cat,
		Players: NewRegistry(cat, backend, opts, broker, slog.Default()),
		Broker:  broker,
		Checks:  map[string]health.Checker{},
	}
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	return newRouter(slog.Default(), testDeps(t, testBackend(t)))
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// onSpot is three precise, stationary readings on top of the gakko spot.
func onSpot() ReadingsRequest {
	return ReadingsRequest{Readings: []stamprally.RawReading{
		{Lat: spotLat, Lng: spotLng, AccuracyMeters: 12, TimestampMs: 1000},
		{Lat: spotLat + 0.00001, Lng: spotLng, AccuracyMeters: 8, TimestampMs: 2000},
		{Lat: spotLat, Lng: spotLng + 0.00001, AccuracyMeters: 10, TimestampMs: 3000},
	}}
}

func TestCatalogHidesAnswers(t *testing.T) {
	r := testRouter(t)

	w := do(t, r, http.MethodGet, "/api/spots", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if strings.Contains(body, "Tokugawa") || strings.Contains(body, "correct") {
		t.Errorf("catalog leaks quiz content: %s", body)
	}

	spots := decode[[]SpotSummary](t, w)
	if len(spots) != 2 {
		t.Fatalf("expected 2 spots, got %d", len(spots))
	}
	if spots[0].ID != "gakko" || spots[0].Questions != 3 || spots[0].RadiusMeters != 50 {
		t.Errorf("unexpected first spot: %+v", spots[0])
	}
}

func TestNewPlayer(t *testing.T) {
	r := testRouter(t)

	w := do(t, r, http.MethodPost, "/api/players", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	resp := decode[NewPlayerResponse](t, w)
	if _, err := uuid.Parse(resp.PlayerID); err != nil {
		t.Errorf("player id %q is not a uuid: %v", resp.PlayerID, err)
	}
	if !playerIDPattern.MatchString(resp.PlayerID) {
		t.Errorf("player id %q rejected by player routes", resp.PlayerID)
	}
}

func TestInvalidPlayerID(t *testing.T) {
	r := testRouter(t)

	w := do(t, r, http.MethodGet, "/api/players/"+strings.Repeat("x", 65)+"/spots", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListSpotsStartsLocked(t *testing.T) {
	r := testRouter(t)

	w := do(t, r, http.MethodGet, "/api/players/p1/spots", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, s := range decode[[]SpotStatusResponse](t, w) {
		if s.State != stamprally.StateLocked || s.QuizAvailable || s.Stamp != nil {
			t.Errorf("spot %s: got state=%s quiz=%v stamp=%v", s.ID, s.State, s.QuizAvailable, s.Stamp)
		}
	}
}

func TestUnknownSpot(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/players/p1/spots/nope", nil},
		{http.MethodPost, "/api/players/p1/spots/nope/readings", onSpot()},
		{http.MethodPost, "/api/players/p1/spots/nope/quiz", nil},
		{http.MethodGet, "/api/players/p1/spots/nope/locate", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			if w.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestReadingsGateFailures(t *testing.T) {
	tests := []struct {
		name        string
		readings    []stamprally.RawReading
		wantReasons []string
	}{
		{
			name: "too far",
			readings: []stamprally.RawReading{
				{Lat: 36.3500, Lng: spotLng, AccuracyMeters: 10, TimestampMs: 1000},
				{Lat: 36.3500, Lng: spotLng, AccuracyMeters: 10, TimestampMs: 2000},
			},
			wantReasons: []string{"too_far"},
		},
		{
			name: "imprecise",
			readings: []stamprally.RawReading{
				{Lat: spotLat, Lng: spotLng, AccuracyMeters: 150, TimestampMs: 1000},
			},
			wantReasons: []string{"too_imprecise"},
		},
		{
			name: "moving",
			readings: []stamprally.RawReading{
				{Lat: spotLat, Lng: spotLng, AccuracyMeters: 10, TimestampMs: 1000},
				{Lat: spotLat + 0.0001, Lng: spotLng, AccuracyMeters: 10, TimestampMs: 2000},
			},
			wantReasons: []string{"too_fast"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRouter(t)

			w := do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/readings", ReadingsRequest{Readings: tt.readings})
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			resp := decode[UnlockResponse](t, w)
			if resp.Passed || resp.Unlocked || resp.State != stamprally.StateLocked {
				t.Errorf("expected locked failure, got %+v", resp)
			}
			if strings.Join(resp.Reasons, ",") != strings.Join(tt.wantReasons, ",") {
				t.Errorf("reasons = %v, want %v", resp.Reasons, tt.wantReasons)
			}
			if len(resp.Guidance) != len(resp.Reasons) {
				t.Errorf("expected one guidance line per reason, got %v", resp.Guidance)
			}

			w = do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz", nil)
			if w.Code != http.StatusConflict {
				t.Errorf("quiz on locked spot: expected 409, got %d", w.Code)
			}
		})
	}
}

func TestReadingsEmptyBatch(t *testing.T) {
	r := testRouter(t)

	w := do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/readings", ReadingsRequest{})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Remediation == "" {
		t.Error("expected remediation hint")
	}
}

func TestReadingsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		readings []stamprally.RawReading
	}{
		{
			name: "negative accuracy offsets a poor fix",
			readings: []stamprally.RawReading{
				{Lat: spotLat, Lng: spotLng, AccuracyMeters: 500, TimestampMs: 1000},
				{Lat: spotLat, Lng: spotLng, AccuracyMeters: -450, TimestampMs: 2000},
			},
		},
		{
			name: "latitude out of range",
			readings: []stamprally.RawReading{
				{Lat: 91, Lng: spotLng, AccuracyMeters: 10, TimestampMs: 1000},
			},
		},
		{
			name: "longitude out of range",
			readings: []stamprally.RawReading{
				{Lat: spotLat, Lng: 181, AccuracyMeters: 10, TimestampMs: 1000},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRouter(t)

			w := do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/readings", ReadingsRequest{Readings: tt.readings})
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if resp := decode[ErrorResponse](t, w); !strings.Contains(resp.Error, "invalid reading") {
				t.Errorf("error = %q", resp.Error)
			}

			w = do(t, r, http.MethodGet, "/api/players/p1/spots/gakko", nil)
			if st := decode[SpotStatusResponse](t, w); st.State != stamprally.StateLocked {
				t.Errorf("state = %s, want locked", st.State)
			}
		})
	}
}

func TestReadingsBadBody(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/players/p1/spots/gakko/readings", strings.NewReader("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUnlockQuizAndStamp(t *testing.T) {
	backend := testBackend(t)
	r := newRouter(slog.Default(), testDeps(t, backend))

	w := do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/readings", onSpot())
	if w.Code != http.StatusOK {
		t.Fatalf("readings: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	unlock := decode[UnlockResponse](t, w)
	if !unlock.Passed || !unlock.Unlocked || unlock.State != stamprally.StateProvisionallyUnlocked {
		t.Fatalf("expected provisional unlock, got %+v", unlock)
	}
	if unlock.Readings != 3 || unlock.DistanceMeters > 5 {
		t.Errorf("unexpected aggregate: readings=%d distance=%.1f", unlock.Readings, unlock.DistanceMeters)
	}

	// Answering before starting is a conflict.
	w = do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz/answer", AnswerRequest{Choice: new(int)})
	if w.Code != http.StatusConflict {
		t.Fatalf("answer before start: expected 409, got %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start quiz: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	q := decode[QuestionResponse](t, w)
	if q.Number != 1 || q.Total != 3 || q.Prompt != "Founded when?" {
		t.Fatalf("unexpected first question: %+v", q)
	}

	// One wrong answer still passes at 2 of 3.
	var last AnswerResponse
	for i, choice := range []int{0, 0, 0} {
		w = do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz/answer", AnswerRequest{Choice: &choice})
		if w.Code != http.StatusOK {
			t.Fatalf("answer %d: expected 200, got %d: %s", i+1, w.Code, w.Body.String())
		}
		last = decode[AnswerResponse](t, w)
		if i < 2 && (last.Finished || last.Next == nil || last.Next.Number != i+2) {
			t.Fatalf("answer %d: expected next question, got %+v", i+1, last)
		}
	}
	if !last.Finished || !last.Passed || last.Score != 2 {
		t.Fatalf("expected passing finish with score 2, got %+v", last)
	}
	if last.State != stamprally.StateStamped || last.Stamp == nil || last.Stamp.SpotID != "gakko" {
		t.Fatalf("expected stamp, got state=%s stamp=%v", last.State, last.Stamp)
	}

	w = do(t, r, http.MethodGet, "/api/players/p1/stamps", nil)
	book := decode[StampBookResponse](t, w)
	if book.Count != 1 || book.Total != 2 || book.Stamps[0].SpotID != "gakko" {
		t.Errorf("unexpected stamp book: %+v", book)
	}

	// Another player is unaffected.
	w = do(t, r, http.MethodGet, "/api/players/p2/stamps", nil)
	if other := decode[StampBookResponse](t, w); other.Count != 0 {
		t.Errorf("p2 should have no stamps, got %d", other.Count)
	}

	// A fresh registry over the same backend restores the stamp.
	r2 := newRouter(slog.Default(), testDeps(t, backend))
	w = do(t, r2, http.MethodGet, "/api/players/p1/spots/gakko", nil)
	st := decode[SpotStatusResponse](t, w)
	if st.State != stamprally.StateStamped || !st.QuizAvailable || st.Stamp == nil {
		t.Errorf("after reload: got %+v", st)
	}
	w = do(t, r2, http.MethodGet, "/api/players/p1/spots/bannaji", nil)
	if st := decode[SpotStatusResponse](t, w); st.State != stamprally.StateLocked {
		t.Errorf("bannaji after reload: state = %s, want locked", st.State)
	}
}

func TestQuizFailKeepsUnlock(t *testing.T) {
	r := testRouter(t)

	do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/readings", onSpot())
	do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz", nil)

	var last AnswerResponse
	for _, choice := range []int{1, 0, 1} {
		w := do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz/answer", AnswerRequest{Choice: &choice})
		last = decode[AnswerResponse](t, w)
	}
	if !last.Finished || last.Passed || last.Score != 0 {
		t.Fatalf("expected failing finish, got %+v", last)
	}
	if last.State != stamprally.StateProvisionallyUnlocked || last.Stamp != nil {
		t.Fatalf("expected spot to stay provisionally unlocked, got %s", last.State)
	}

	// Finished run rejects further answers until restarted.
	choice := 0
	w := do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz/answer", AnswerRequest{Choice: &choice})
	if w.Code != http.StatusConflict {
		t.Errorf("answer after finish: expected 409, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz", nil)
	if q := decode[QuestionResponse](t, w); q.Number != 1 {
		t.Errorf("restart: expected question 1, got %d", q.Number)
	}
}

func TestAnswerValidation(t *testing.T) {
	r := testRouter(t)
	do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/readings", onSpot())
	do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz", nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing choice", map[string]any{}, http.StatusBadRequest},
		{"out of range", map[string]any{"choice": 7}, http.StatusBadRequest},
		{"negative", map[string]any{"choice": -1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/players/p1/spots/gakko/quiz/answer", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestIsSecureContext(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		header string
		want   bool
	}{
		{"localhost", "localhost:8080", "", true},
		{"ipv4 loopback", "127.0.0.1:8080", "", true},
		{"ipv6 loopback", "[::1]:8080", "", true},
		{"lan host", "192.168.1.20:8080", "", false},
		{"public host", "rally.example.org", "", false},
		{"behind tls proxy", "rally.example.org", "https", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tt.host
			if tt.header != "" {
				req.Header.Set("X-Forwarded-Proto", tt.header)
			}
			if got := isSecureContext(req); got != tt.want {
				t.Errorf("isSecureContext(%s) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
