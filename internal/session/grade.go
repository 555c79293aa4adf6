package session

import "github.com/stemsi/exstem-proctor/internal/model"

// Grading is the outcome of exact-match scoring.
type Grading struct {
	Correct int
	Total   int
	Score   float64
}

// Grade compares each question's chosen option with its answer key.
// Score is Correct/Total, or 0 when there are no questions.
func Grade(questions []model.Question, answers model.Answers) Grading {
	g := Grading{Total: len(questions)}
	for _, q := range questions {
		if chosen, ok := answers[q.ID]; ok && chosen == q.AnswerKey {
			g.Correct++
		}
	}
	if g.Total > 0 {
		g.Score = float64(g.Correct) / float64(g.Total)
	}
	return g
}
