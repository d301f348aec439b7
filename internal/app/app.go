// Package app ties the catalog, a player's stamp store, the unlock state
// machine and quiz runs into one application context.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/stamprally/internal/catalog"
	"github.com/playperu/stamprally/internal/metrics"
	"github.com/playperu/stamprally/internal/proximity"
	"github.com/playperu/stamprally/internal/quiz"
	"github.com/playperu/stamprally/internal/sampler"
	"github.com/playperu/stamprally/internal/stamprally"
	"github.com/playperu/stamprally/internal/stamps"
	"github.com/playperu/stamprally/internal/unlock"
)

var ErrQuizNotStarted = errors.New("quiz not started")

type Options struct {
	SampleCount    int
	SampleInterval time.Duration
	Sampler        sampler.Options
	Notify         unlock.Notifier
}

func DefaultOptions() Options {
	return Options{
		SampleCount:    3,
		SampleInterval: 1200 * time.Millisecond,
		Sampler:        sampler.DefaultOptions(),
	}
}

// App serves unlock and quiz operations for one player. Methods may be
// called from concurrent requests; state access is serialised internally.
type App struct {
	catalog *catalog.Catalog
	opts    Options
	logger  *slog.Logger

	mu      sync.Mutex
	store   *stamps.Store
	machine *unlock.Machine
	quizzes map[string]*quiz.Session
}

// New rebuilds unlock state from the stamps already in store.
func New(cat *catalog.Catalog, store *stamps.Store, opts Options, logger *slog.Logger) *App {
	return &App{
		catalog: cat,
		opts:    opts,
		logger:  logger,
		store:   store,
		machine: unlock.NewMachine(store.List(), opts.Notify),
		quizzes: make(map[string]*quiz.Session),
	}
}

type SpotStatus struct {
	Spot          stamprally.Spot
	State         stamprally.UnlockState
	Stamp         *stamprally.StampRecord
	QuizAvailable bool
}

func (a *App) Spots() []SpotStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]SpotStatus, 0, a.catalog.Len())
	for _, s := range a.catalog.Spots() {
		out = append(out, a.status(s))
	}
	return out
}

func (a *App) Spot(id string) (SpotStatus, error) {
	spot, err := a.catalog.Spot(id)
	if err != nil {
		return SpotStatus{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status(spot), nil
}

func (a *App) status(s stamprally.Spot) SpotStatus {
	st := SpotStatus{
		Spot:          s,
		State:         a.machine.State(s.ID),
		QuizAvailable: a.machine.QuizAvailable(s.ID),
	}
	if rec, ok := a.store.Get(s.ID); ok {
		st.Stamp = &rec
	}
	return st
}

// Attempt is the outcome of one unlock attempt.
type Attempt struct {
	SpotID   string
	Log      string
	Readings int
	Position stamprally.AggregatedPosition
	Verdict  stamprally.Verdict
	State    stamprally.UnlockState
	Unlocked bool
}

// AttemptUnlock samples the device position through loc and, if every
// gate passes, provisionally unlocks the spot. Sampling happens without
// holding the player's lock.
func (a *App) AttemptUnlock(ctx context.Context, spotID string, loc sampler.LocationService, secure bool) (Attempt, error) {
	spot, err := a.catalog.Spot(spotID)
	if err != nil {
		return Attempt{}, err
	}

	opts := a.opts.Sampler
	opts.SecureContext = secure
	s := sampler.New(loc, opts, a.logger)

	readings, log, err := s.Sample(ctx, a.opts.SampleCount, a.opts.SampleInterval)
	if err != nil {
		var perr *stamprally.PreconditionError
		if errors.As(err, &perr) {
			metrics.UnlockAttemptsTotal.WithLabelValues("precondition").Inc()
		}
		return Attempt{SpotID: spotID, Log: log}, fmt.Errorf("sampling location: %w", err)
	}
	metrics.SampleReadingsTotal.WithLabelValues("ok").Add(float64(len(readings)))
	metrics.SampleReadingsTotal.WithLabelValues("failed").Add(float64(a.opts.SampleCount - len(readings)))

	att, err := a.judge(spot, readings)
	att.Log = log
	return att, err
}

// VerifyReadings judges a batch the device has already sampled. A batch
// holding any invalid reading is rejected whole.
func (a *App) VerifyReadings(spotID string, readings []stamprally.RawReading) (Attempt, error) {
	spot, err := a.catalog.Spot(spotID)
	if err != nil {
		return Attempt{}, err
	}
	for i, r := range readings {
		if err := r.Validate(); err != nil {
			metrics.UnlockAttemptsTotal.WithLabelValues("invalid").Inc()
			return Attempt{SpotID: spotID}, fmt.Errorf("reading %d: %w", i+1, err)
		}
	}
	return a.judge(spot, readings)
}

func (a *App) judge(spot stamprally.Spot, readings []stamprally.RawReading) (Attempt, error) {
	att := Attempt{SpotID: spot.ID, Readings: len(readings)}

	pos, ok := proximity.Aggregate(readings)
	if !ok {
		metrics.UnlockAttemptsTotal.WithLabelValues("no_readings").Inc()
		return att, stamprally.ErrNoReadings
	}
	att.Position = pos
	att.Verdict = proximity.Evaluate(pos, spot)

	metrics.DistanceMeters.Observe(att.Verdict.DistanceMeters)
	for _, r := range att.Verdict.Reasons.List() {
		metrics.GateFailuresTotal.WithLabelValues(r.String()).Inc()
	}
	if att.Verdict.Passed {
		metrics.UnlockAttemptsTotal.WithLabelValues("passed").Inc()
	} else {
		metrics.UnlockAttemptsTotal.WithLabelValues("failed").Inc()
	}

	a.mu.Lock()
	att.Unlocked = a.machine.Unlock(spot.ID, att.Verdict)
	att.State = a.machine.State(spot.ID)
	a.mu.Unlock()

	a.logger.Info("unlock attempt",
		"spot", spot.ID,
		"readings", len(readings),
		"distance_m", att.Verdict.DistanceMeters,
		"accuracy_m", pos.AccuracyMeters,
		"passed", att.Verdict.Passed,
		"reasons", att.Verdict.Reasons.String(),
	)
	return att, nil
}

type QuizQuestion struct {
	SpotID  string
	Number  int
	Total   int
	Prompt  string
	Choices []string
}

// StartQuiz starts the spot's quiz from question 1, discarding any earlier
// run for the same spot.
func (a *App) StartQuiz(spotID string) (QuizQuestion, error) {
	spot, err := a.catalog.Spot(spotID)
	if err != nil {
		return QuizQuestion{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.machine.QuizAvailable(spotID) {
		return QuizQuestion{}, stamprally.ErrQuizLocked
	}

	s, ok := a.quizzes[spotID]
	if ok {
		s.Restart()
	} else {
		s, err = quiz.New(spot)
		if err != nil {
			return QuizQuestion{}, err
		}
		a.quizzes[spotID] = s
	}

	q, _ := current(s)
	return q, nil
}

// QuizStep is what the player sees after answering.
type QuizStep struct {
	Result   quiz.Result
	Next     *QuizQuestion
	Finished bool
	Score    int
	Passed   bool
	State    stamprally.UnlockState
	Stamp    *stamprally.StampRecord
}

// AnswerQuiz answers the current question. When it finishes a passing run
// the spot is stamped and the stamp persisted.
func (a *App) AnswerQuiz(ctx context.Context, spotID string, choice int) (QuizStep, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.quizzes[spotID]
	if !ok {
		return QuizStep{}, ErrQuizNotStarted
	}

	res, err := s.Answer(choice)
	if err != nil {
		return QuizStep{}, err
	}

	step := QuizStep{Result: res, State: a.machine.State(spotID)}
	if next, ok := current(s); ok {
		step.Next = &next
		return step, nil
	}

	step.Finished = true
	step.Score = s.Score()
	step.Passed = s.Passed()

	if !step.Passed {
		metrics.QuizRunsTotal.WithLabelValues("failed").Inc()
		return step, nil
	}
	metrics.QuizRunsTotal.WithLabelValues("passed").Inc()

	changed, err := a.machine.Stamp(spotID, func() error {
		_, err := a.store.Put(ctx, spotID)
		return err
	})
	if err != nil {
		return step, err
	}
	if changed {
		metrics.StampsTotal.Inc()
		a.logger.Info("stamp acquired", "spot", spotID, "score", step.Score)
	}

	step.State = a.machine.State(spotID)
	if rec, ok := a.store.Get(spotID); ok {
		step.Stamp = &rec
	}
	return step, nil
}

func current(s *quiz.Session) (QuizQuestion, bool) {
	q, n, ok := s.Current()
	if !ok {
		return QuizQuestion{}, false
	}
	return QuizQuestion{
		SpotID:  s.SpotID(),
		Number:  n,
		Total:   quiz.QuestionsPerRun,
		Prompt:  q.Prompt,
		Choices: q.Choices,
	}, true
}

type StampBook struct {
	Stamps []stamprally.StampRecord
	Total  int
	Badge  string
}

func (a *App) StampBook() StampBook {
	a.mu.Lock()
	defer a.mu.Unlock()

	book := StampBook{Total: a.catalog.Len()}
	for _, id := range a.store.List() {
		rec, _ := a.store.Get(id)
		book.Stamps = append(book.Stamps, rec)
	}
	book.Badge = Badge(len(book.Stamps))
	return book
}

// Badge names the title earned for a number of stamps, or "" for none.
func Badge(count int) string {
	switch {
	case count >= 20:
		return "town-guide"
	case count >= 10:
		return "town-scholar"
	case count >= 3:
		return "first-steps"
	}
	return ""
}
