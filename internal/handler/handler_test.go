package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFailAttemptMapsErrors(t *testing.T) {
	tests := []struct {
		err  error
		code response.ErrCode
	}{
		{model.ErrAttemptNotFound, response.ErrAttemptNotFound},
		{fmt.Errorf("load: %w", service.ErrAttemptNotOwned), response.ErrAttemptNotOwned},
		{model.ErrAttemptCompleted, response.ErrAttemptCompleted},
		{model.ErrAttemptNotCompleted, response.ErrAttemptNotCompleted},
		{model.ErrReviewRequested, response.ErrReviewRequested},
		{errors.New("connection reset"), response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			failAttempt(c, zerolog.Nop(), tt.err)

			if w.Code != response.StatusOf(tt.code) {
				t.Fatalf("status = %d, want %d", w.Code, response.StatusOf(tt.code))
			}
			var body response.Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error == nil || body.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %s", body.Error, tt.code)
			}
		})
	}
}

func TestResultResponseHidesAnswerKey(t *testing.T) {
	score := 50.0
	a := &model.Attempt{
		ID:      uuid.New(),
		Status:  model.AttemptStatusCompleted,
		Score:   &score,
		Answers: model.Answers{"q1": "b"},
		Questions: []model.Question{
			{ID: "q1", Stem: "1+1", Options: []model.Option{{ID: "a", Text: "1"}, {ID: "b", Text: "2"}}, AnswerKey: "b"},
			{ID: "q2", Stem: "2+2", Options: []model.Option{{ID: "a", Text: "4"}}, AnswerKey: "a"},
		},
	}

	data, err := json.Marshal(newResultResponse(a))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "answer_key") {
		t.Fatalf("answer key leaked: %s", data)
	}

	res := newResultResponse(a)
	if res.Questions[0].Selected != "b" || res.Questions[1].Selected != "" {
		t.Fatalf("selected = %q, %q", res.Questions[0].Selected, res.Questions[1].Selected)
	}
}

func TestUpgraderOrigins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"open in dev", nil, "https://anything.example", true},
		{"listed", []string{"https://exam.example"}, "https://EXAM.example", true},
		{"unlisted", []string{"https://exam.example"}, "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := buildUpgrader(tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Origin", tt.origin)
			if got := u.CheckOrigin(r); got != tt.want {
				t.Fatalf("CheckOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestPollQuestionsGivesUp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loop := eventloop.New(clock, zerolog.Nop())

	fetches, starts, giveUps := 0, 0, 0
	pollQuestions(context.Background(), loop, 5*time.Second, 3,
		func(context.Context) ([]model.Question, error) {
			fetches++
			if fetches == 2 {
				return nil, errors.New("redis down")
			}
			return nil, nil
		},
		func([]model.Question) error {
			starts++
			return session.ErrNoQuestions
		},
		func() { giveUps++ },
		zerolog.Nop(),
	)

	for range 6 {
		clock.Advance(5 * time.Second)
		loop.Flush()
	}

	if fetches != 3 {
		t.Fatalf("fetches = %d, want 3", fetches)
	}
	if starts != 2 {
		t.Fatalf("starts = %d, want 2 (failed fetches never reach start)", starts)
	}
	if giveUps != 1 {
		t.Fatalf("giveUps = %d, want 1", giveUps)
	}
	if n := loop.ActiveTimers(); n != 0 {
		t.Fatalf("ActiveTimers = %d, want 0", n)
	}
}

func TestPollQuestionsStopsOnceStarted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	loop := eventloop.New(clock, zerolog.Nop())

	fetches, giveUps := 0, 0
	var started []model.Question
	pollQuestions(context.Background(), loop, 5*time.Second, 3,
		func(context.Context) ([]model.Question, error) {
			fetches++
			if fetches < 2 {
				return nil, nil
			}
			return []model.Question{{ID: "q1"}}, nil
		},
		func(qs []model.Question) error {
			if len(qs) == 0 {
				return session.ErrNoQuestions
			}
			started = qs
			return nil
		},
		func() { giveUps++ },
		zerolog.Nop(),
	)

	for range 5 {
		clock.Advance(5 * time.Second)
		loop.Flush()
	}

	if fetches != 2 || len(started) != 1 {
		t.Fatalf("fetches = %d started = %v", fetches, started)
	}
	if giveUps != 0 {
		t.Fatalf("giveUps = %d, want 0", giveUps)
	}
}
