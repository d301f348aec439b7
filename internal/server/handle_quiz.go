package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/stamprally/internal/app"
	"github.com/playperu/stamprally/internal/stamprally"
)

type QuestionResponse struct {
	SpotID  string   `json:"spotId"`
	Number  int      `json:"number"`
	Total   int      `json:"total"`
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

type AnswerRequest struct {
	Choice *int `json:"choice"`
}

type AnswerResponse struct {
	Correct      bool                    `json:"correct"`
	CorrectIndex int                     `json:"correctIndex"`
	Explanation  string                  `json:"explanation"`
	Next         *QuestionResponse       `json:"next,omitempty"`
	Finished     bool                    `json:"finished"`
	Score        int                     `json:"score"`
	Passed       bool                    `json:"passed"`
	State        stamprally.UnlockState  `json:"state"`
	Stamp        *stamprally.StampRecord `json:"stamp,omitempty"`
}

func toQuestionResponse(q app.QuizQuestion) QuestionResponse {
	return QuestionResponse{
		SpotID:  q.SpotID,
		Number:  q.Number,
		Total:   q.Total,
		Prompt:  q.Prompt,
		Choices: q.Choices,
	}
}

func handleStartQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := playerApp(r).StartQuiz(chi.URLParam(r, "spotID"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toQuestionResponse(q))
	}
}

func handleAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := readJSON(w, r, &req); err != nil || req.Choice == nil {
			writeError(w, http.StatusBadRequest, "choice is required")
			return
		}

		step, err := playerApp(r).AnswerQuiz(r.Context(), chi.URLParam(r, "spotID"), *req.Choice)
		if err != nil {
			writeAppError(w, err)
			return
		}

		resp := AnswerResponse{
			Correct:      step.Result.Correct,
			CorrectIndex: step.Result.CorrectIndex,
			Explanation:  step.Result.Explanation,
			Finished:     step.Finished,
			Score:        step.Score,
			Passed:       step.Passed,
			State:        step.State,
			Stamp:        step.Stamp,
		}
		if step.Next != nil {
			next := toQuestionResponse(*step.Next)
			resp.Next = &next
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
