// Package quiz runs the three-question quiz attached to a spot.
package quiz

import (
	"errors"
	"fmt"
	"iter"

	"github.com/playperu/stamprally/internal/stamprally"
)

const (
	QuestionsPerRun = 3
	PassScore       = 2
)

var (
	ErrFinished      = errors.New("quiz already finished")
	ErrInvalidChoice = errors.New("invalid choice")
	ErrTooShort      = errors.New("spot quiz has too few questions")
)

// Result is revealed as soon as a question is answered.
type Result struct {
	Number       int    `json:"number"`
	Choice       int    `json:"choice"`
	Correct      bool   `json:"correct"`
	CorrectIndex int    `json:"correctIndex"`
	Explanation  string `json:"explanation"`
}

// Session is one run through a spot's quiz. Questions are asked in
// catalog order and each is answered exactly once.
type Session struct {
	spotID    string
	questions []stamprally.Question
	results   []Result
	score     int
}

func New(spot stamprally.Spot) (*Session, error) {
	if len(spot.Quiz) < QuestionsPerRun {
		return nil, fmt.Errorf("%w: %q has %d", ErrTooShort, spot.ID, len(spot.Quiz))
	}
	return &Session{
		spotID:    spot.ID,
		questions: spot.Quiz[:QuestionsPerRun],
	}, nil
}

func (s *Session) SpotID() string { return s.spotID }

// Current returns the next unanswered question and its 1-based number.
func (s *Session) Current() (stamprally.Question, int, bool) {
	if s.Done() {
		return stamprally.Question{}, 0, false
	}
	n := len(s.results)
	return s.questions[n], n + 1, true
}

// Answer locks in choice for the current question and advances.
func (s *Session) Answer(choice int) (Result, error) {
	q, n, ok := s.Current()
	if !ok {
		return Result{}, ErrFinished
	}
	if choice < 0 || choice >= len(q.Choices) {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidChoice, choice)
	}

	r := Result{
		Number:       n,
		Choice:       choice,
		Correct:      choice == q.CorrectIndex,
		CorrectIndex: q.CorrectIndex,
		Explanation:  q.Explanation,
	}
	if r.Correct {
		s.score++
	}
	s.results = append(s.results, r)
	return r, nil
}

func (s *Session) Done() bool { return len(s.results) == len(s.questions) }

func (s *Session) Score() int { return s.score }

// Passed is only meaningful once Done.
func (s *Session) Passed() bool { return s.Done() && s.score >= PassScore }

// Restart discards all answers and starts again from question 1.
func (s *Session) Restart() {
	s.results = nil
	s.score = 0
}

// Results yields the answered questions in order.
func (s *Session) Results() iter.Seq[Result] {
	return func(yield func(Result) bool) {
		for _, r := range s.results {
			if !yield(r) {
				return
			}
		}
	}
}
