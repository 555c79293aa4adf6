package model

import "slices"

// Option is one selectable answer of a multiple-choice question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Difficulty grades how hard a question is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question is the exam copy of a question as delivered to one attempt.
// Option order is the presented order and is not stable across attempts.
type Question struct {
	ID         string     `json:"id"`
	Stem       string     `json:"stem"`
	Options    []Option   `json:"options"`
	AnswerKey  string     `json:"answer_key"`
	Topic      string     `json:"topic,omitempty"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	ImageRef   string     `json:"image_ref,omitempty"`
}

// Clone returns a deep copy that shares no mutable state with q.
func (q Question) Clone() Question {
	q.Options = slices.Clone(q.Options)
	return q
}

// QuestionForStudent is a question without the answer key, sent to students.
type QuestionForStudent struct {
	ID         string     `json:"id"`
	Stem       string     `json:"stem"`
	Options    []Option   `json:"options"`
	Topic      string     `json:"topic,omitempty"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	ImageRef   string     `json:"image_ref,omitempty"`
}

// ForStudent strips the answer key.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:         q.ID,
		Stem:       q.Stem,
		Options:    slices.Clone(q.Options),
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
		ImageRef:   q.ImageRef,
	}
}

// HasOption reports whether optionID is one of the question's options.
func (q Question) HasOption(optionID string) bool {
	return slices.ContainsFunc(q.Options, func(o Option) bool { return o.ID == optionID })
}
