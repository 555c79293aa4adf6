package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/capture"
	"github.com/stemsi/exstem-proctor/internal/eventloop"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/shuffle"
)

type fakeAnswers struct {
	mu    sync.Mutex
	saves []model.Answers
}

func (f *fakeAnswers) SaveAnswers(ctx context.Context, id uuid.UUID, a model.Answers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, a)
	return nil
}

func (f *fakeAnswers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []*model.Attempt
	errs   []error
	gate   chan struct{}
	stored *model.Attempt // returned with ErrAttemptCompleted
}

func (f *fakeSubmitter) SubmitAttempt(ctx context.Context, a *model.Attempt) (*model.Attempt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, a)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if errors.Is(err, model.ErrAttemptCompleted) && f.stored != nil {
		return f.stored.Clone(), err
	}
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (f *fakeAudit) LogAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAudit) kinds() map[model.AuditKind]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.AuditKind]int{}
	for _, ev := range f.events {
		out[ev.Kind]++
	}
	return out
}

type fakeReview struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReview) RequestReview(ctx context.Context, id uuid.UUID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeStream struct {
	mu     sync.Mutex
	frame  []byte
	closes int
}

func (s *fakeStream) Frame(ctx context.Context) ([]byte, error) { return s.frame, nil }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeCamera struct {
	mu      sync.Mutex
	frame   []byte
	streams []*fakeStream
}

func (c *fakeCamera) Open(ctx context.Context) (capture.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeStream{frame: c.frame}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCamera) openStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.streams {
		if s.closed() == 0 {
			n++
		}
	}
	return n
}

type fakeView struct {
	renders int
}

func (v *fakeView) Render(Snapshot) { v.renders++ }

func testQuestions() []model.Question {
	opts := []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"}}
	return []model.Question{
		{ID: "q1", Stem: "One", Options: opts, AnswerKey: "a"},
		{ID: "q2", Stem: "Two", Options: opts, AnswerKey: "b"},
		{ID: "q3", Stem: "Three", Options: opts, AnswerKey: "c"},
	}
}

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return buf.Bytes()
}

type env struct {
	clock   *clockwork.FakeClock
	loop    *eventloop.Loop
	feed    *proctor.Feed
	answers *fakeAnswers
	submit  *fakeSubmitter
	audit   *fakeAudit
	review  *fakeReview
	camera  *fakeCamera
	view    *fakeView
	attempt *model.Attempt
	ctrl    *Controller
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.CaptureCountdown = 0
	return opts
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	e := &env{
		clock:   clockwork.NewFakeClock(),
		answers: &fakeAnswers{},
		submit:  &fakeSubmitter{},
		audit:   &fakeAudit{},
		review:  &fakeReview{},
		camera:  &fakeCamera{frame: jpegFrame(t)},
		view:    &fakeView{},
	}
	e.loop = eventloop.New(e.clock, zerolog.Nop())
	e.feed = proctor.NewFeed(nil)
	e.attempt = &model.Attempt{
		ID:              uuid.New(),
		UserID:          7,
		ExamID:          uuid.New(),
		DurationSeconds: 60,
		Status:          model.AttemptStatusInProgress,
		StartedAt:       e.clock.Now(),
	}
	e.build(opts)
	return e
}

func (e *env) build(opts Options) {
	e.ctrl = New(context.Background(), e.loop, e.attempt, shuffle.New(rand.NewPCG(1, 2)), Deps{
		Answers: e.answers,
		Submit:  e.submit,
		Audit:   e.audit,
		Review:  e.review,
		Signals: e.feed,
		Camera:  e.camera,
		View:    e.view,
	}, opts, zerolog.Nop())
}

// start begins the attempt in fullscreen and settles the loop.
func (e *env) start(t *testing.T) {
	t.Helper()
	if err := e.ctrl.Start(testQuestions(), Prior{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.feed.Emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: true})
	e.loop.Flush()
}

func TestGradeExactMatch(t *testing.T) {
	qs := []model.Question{{ID: "q1", AnswerKey: "a"}, {ID: "q2", AnswerKey: "b"}}

	tests := []struct {
		name    string
		qs      []model.Question
		answers model.Answers
		want    Grading
	}{
		{"half", qs, model.Answers{"q1": "a", "q2": "c"}, Grading{Correct: 1, Total: 2, Score: 0.5}},
		{"unanswered", qs, model.Answers{}, Grading{Correct: 0, Total: 2, Score: 0}},
		{"all", qs, model.Answers{"q1": "a", "q2": "b"}, Grading{Correct: 2, Total: 2, Score: 1}},
		{"no questions", nil, model.Answers{"q1": "a"}, Grading{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Grade(tt.qs, tt.answers); got != tt.want {
				t.Fatalf("Grade() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestManualSubmitAndExpiryRaceSubmitOnce(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)

	e.ctrl.Select("", e.ctrl.Questions()[0].AnswerKey)
	e.ctrl.RequestSubmit()
	e.ctrl.Dispatch(Command{Action: ActionConfirmSubmit})
	e.clock.Advance(60 * time.Second)
	e.loop.Flush()

	if n := e.submit.count(); n != 1 {
		t.Fatalf("submit calls = %d, want 1", n)
	}
	snap := e.ctrl.Snapshot()
	if snap.Phase != PhaseCompleted {
		t.Fatalf("Phase = %s, want completed", snap.Phase)
	}
	if snap.Result.SubmitReason != model.SubmitReasonManual {
		t.Fatalf("SubmitReason = %q, want manual", snap.Result.SubmitReason)
	}

	sent := e.submit.calls[0]
	if sent.Status != model.AttemptStatusCompleted || sent.CompletedAt == nil || sent.Score == nil {
		t.Fatalf("payload not completed: %+v", sent)
	}
	if len(sent.Questions) != 3 || sent.Questions[0].ID != e.ctrl.Questions()[0].ID {
		t.Fatal("payload does not carry the frozen sequence")
	}
	if *sent.CorrectCount != 1 || *sent.TotalCount != 3 {
		t.Fatalf("graded %d/%d, want 1/3", *sent.CorrectCount, *sent.TotalCount)
	}
}

func TestViolationLimitSubmitsOnce(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)
	e.submit.gate = make(chan struct{})

	for range 3 {
		e.feed.Emit(proctor.Signal{Kind: proctor.SignalWindowBlur})
	}
	e.loop.RunPending()

	snap := e.ctrl.Snapshot()
	if snap.Warning == nil || snap.Warning.Count != 3 || snap.Warning.Max != 3 {
		t.Fatalf("Warning = %+v", snap.Warning)
	}
	if snap.Phase != PhaseActive {
		t.Fatalf("submitted before the grace delay: %s", snap.Phase)
	}

	e.clock.Advance(1500 * time.Millisecond)
	e.loop.RunPending()
	if e.ctrl.Snapshot().Phase != PhaseSubmitting {
		t.Fatalf("Phase = %s, want submitting", e.ctrl.Snapshot().Phase)
	}

	e.feed.Emit(proctor.Signal{Kind: proctor.SignalVisibilityChange, Hidden: true})
	e.loop.RunPending()
	e.clock.Advance(5 * time.Second)
	e.loop.RunPending()

	close(e.submit.gate)
	e.loop.Flush()

	if n := e.submit.count(); n != 1 {
		t.Fatalf("submit calls = %d, want 1", n)
	}
	if r := e.ctrl.Result(); r == nil || r.SubmitReason != model.SubmitReasonViolationLimit {
		t.Fatalf("Result() = %+v", r)
	}
	kinds := e.audit.kinds()
	if kinds[model.AuditFocusLost] != 3 || kinds[model.AuditVisibilityHidden] != 1 {
		t.Fatalf("audit kinds = %v", kinds)
	}
}

func TestSubmitFailureIsRetryable(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)
	e.submit.errs = []error{errors.New("connection reset")}

	e.ctrl.RequestSubmit()
	e.ctrl.ConfirmSubmit()
	e.loop.Flush()

	snap := e.ctrl.Snapshot()
	if snap.Phase != PhaseActive || snap.SubmitError == "" {
		t.Fatalf("after failure: phase %s error %q", snap.Phase, snap.SubmitError)
	}

	e.ctrl.DismissError()
	e.ctrl.RetrySubmit()
	e.loop.Flush()

	if n := e.submit.count(); n != 2 {
		t.Fatalf("submit calls = %d, want 2", n)
	}
	if e.ctrl.Snapshot().Phase != PhaseCompleted {
		t.Fatalf("Phase = %s after retry", e.ctrl.Snapshot().Phase)
	}

	e.ctrl.RetrySubmit()
	e.loop.Flush()
	if n := e.submit.count(); n != 2 {
		t.Fatalf("retry after success submitted again: %d calls", n)
	}
}

func TestExpiryRetriesAfterFailedSubmit(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)
	e.submit.errs = []error{errors.New("timeout")}

	e.ctrl.RequestSubmit()
	e.ctrl.ConfirmSubmit()
	e.loop.Flush()

	e.clock.Advance(60 * time.Second)
	e.loop.Flush()

	if n := e.submit.count(); n != 2 {
		t.Fatalf("submit calls = %d, want 2", n)
	}
	if r := e.ctrl.Result(); r == nil || r.SubmitReason != model.SubmitReasonTimeExpired {
		t.Fatalf("Result() = %+v", r)
	}
}

func TestAlreadyCompletedIsTreatedAsDone(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)

	// The first submit committed but its reply was lost; the student then
	// changed every answer before retrying.
	zero, none, three := 0.0, 0, 3
	completedAt := e.clock.Now()
	stored := e.attempt.Clone()
	stored.Status = model.AttemptStatusCompleted
	stored.Score, stored.CorrectCount, stored.TotalCount = &zero, &none, &three
	stored.SubmitReason = model.SubmitReasonManual
	stored.CompletedAt = &completedAt
	stored.Answers = model.Answers{}
	e.submit.stored = stored
	e.submit.errs = []error{errors.New("reply lost"), model.ErrAttemptCompleted}

	e.ctrl.RequestSubmit()
	e.ctrl.ConfirmSubmit()
	e.loop.Flush()

	for _, q := range e.ctrl.Questions() {
		if !e.ctrl.Select(q.ID, q.AnswerKey) {
			t.Fatalf("Select(%s) refused after a failed submit", q.ID)
		}
	}
	e.clock.Advance(5 * time.Second)
	e.ctrl.DismissError()
	e.ctrl.RetrySubmit()
	e.loop.Flush()

	snap := e.ctrl.Snapshot()
	if snap.Phase != PhaseCompleted {
		t.Fatalf("Phase = %s", snap.Phase)
	}
	r := e.ctrl.Result()
	if r == nil || *r.CorrectCount != 0 || *r.Score != 0 {
		t.Fatalf("Result() = %+v, want the stored grading", r)
	}
	if !r.CompletedAt.Equal(completedAt) {
		t.Fatalf("CompletedAt = %v, want %v", r.CompletedAt, completedAt)
	}
	if sent := e.submit.calls[1]; *sent.CorrectCount != 3 {
		t.Fatalf("retry graded %d, want 3", *sent.CorrectCount)
	}
}

func TestViolationLimitDuringFailedManualSubmit(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)
	e.submit.errs = []error{errors.New("connection reset")}
	e.submit.gate = make(chan struct{})

	e.ctrl.RequestSubmit()
	e.ctrl.ConfirmSubmit()
	e.loop.RunPending()

	for range 3 {
		e.feed.Emit(proctor.Signal{Kind: proctor.SignalWindowBlur})
	}
	e.loop.RunPending()
	e.clock.Advance(1500 * time.Millisecond)
	e.loop.RunPending()

	// The manual submit fails after the escalation fired into the guard.
	close(e.submit.gate)
	e.loop.Flush()
	if e.ctrl.Snapshot().Phase != PhaseActive {
		t.Fatalf("Phase = %s after failure, want active", e.ctrl.Snapshot().Phase)
	}

	e.clock.Advance(1500 * time.Millisecond)
	e.loop.Flush()

	if n := e.submit.count(); n != 2 {
		t.Fatalf("submit calls = %d, want 2", n)
	}
	if r := e.ctrl.Result(); r == nil || r.SubmitReason != model.SubmitReasonViolationLimit {
		t.Fatalf("Result() = %+v, want a violation-limit submission", r)
	}
	if e.ctrl.Select("", e.ctrl.Questions()[0].AnswerKey) {
		t.Fatal("answering allowed after the forced submission")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)
	e.ctrl.Select("", "b")

	if e.camera.openStreams() != 1 {
		t.Fatalf("open streams = %d before close, want 1", e.camera.openStreams())
	}

	e.ctrl.Close()
	e.ctrl.Close()

	if n := e.loop.ActiveTimers(); n != 0 {
		t.Fatalf("ActiveTimers() = %d after Close", n)
	}
	if n := e.camera.openStreams(); n != 0 {
		t.Fatalf("open streams = %d after Close", n)
	}
	if n := e.feed.Subscribers(); n != 0 {
		t.Fatalf("Subscribers() = %d after Close", n)
	}

	renders := e.view.renders
	e.clock.Advance(10 * time.Minute)
	e.loop.Flush()

	if e.answers.count() != 0 || e.submit.count() != 0 {
		t.Fatalf("work after Close: saves %d submits %d", e.answers.count(), e.submit.count())
	}
	if e.view.renders != renders {
		t.Fatal("view rendered after Close")
	}
}

func TestFinalizeReleasesComponents(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)

	e.ctrl.RequestSubmit()
	e.ctrl.ConfirmSubmit()
	e.loop.Flush()

	if n := e.loop.ActiveTimers(); n != 0 {
		t.Fatalf("ActiveTimers() = %d after submission", n)
	}
	if n := e.camera.openStreams(); n != 0 {
		t.Fatalf("open streams = %d after submission", n)
	}
}

func TestNavigationIsClamped(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)

	e.ctrl.Previous()
	if e.ctrl.Index() != 0 {
		t.Fatalf("Index() = %d after Previous at start", e.ctrl.Index())
	}
	e.ctrl.Goto(99)
	if e.ctrl.Index() != 2 {
		t.Fatalf("Index() = %d after Goto(99)", e.ctrl.Index())
	}
	e.ctrl.Next()
	if e.ctrl.Index() != 2 {
		t.Fatalf("Index() = %d after Next at end", e.ctrl.Index())
	}
	e.ctrl.Goto(-5)
	if e.ctrl.Index() != 0 {
		t.Fatalf("Index() = %d after Goto(-5)", e.ctrl.Index())
	}
}

func TestSelectUpserts(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)
	qid := e.ctrl.Questions()[0].ID

	if !e.ctrl.Select("", "a") {
		t.Fatal("Select rejected a valid option")
	}
	e.ctrl.Select(qid, "c")
	if e.ctrl.Select(qid, "zzz") {
		t.Fatal("Select accepted an unknown option")
	}
	if e.ctrl.Select("nope", "a") {
		t.Fatal("Select accepted an unknown question")
	}

	got := e.ctrl.Answers()
	if len(got) != 1 || got[qid] != "c" {
		t.Fatalf("Answers() = %v, want {%s: c}", got, qid)
	}
	if snap := e.ctrl.Snapshot(); snap.Selected != "c" || !snap.Answered[0] {
		t.Fatalf("Snapshot selected %q answered %v", snap.Selected, snap.Answered)
	}
}

func TestAnsweringBlockedOutsideFullscreen(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)

	e.feed.Emit(proctor.Signal{Kind: proctor.SignalFullscreenChange, Fullscreen: false})
	e.loop.RunPending()

	if e.ctrl.Select("", "a") {
		t.Fatal("answer accepted outside fullscreen")
	}
	snap := e.ctrl.Snapshot()
	if !snap.Blocked {
		t.Fatal("view not blocked outside fullscreen")
	}
	remaining := snap.RemainingSeconds

	e.clock.Advance(5 * time.Second)
	e.loop.RunPending()
	if e.ctrl.Snapshot().RemainingSeconds != remaining-5 {
		t.Fatal("timer paused while outside fullscreen")
	}
}

func TestAutosavePersistsLatestAnswers(t *testing.T) {
	opts := testOptions()
	e := newEnv(t, opts)
	e.attempt.DurationSeconds = 600
	e.build(opts)
	e.start(t)

	e.clock.Advance(30 * time.Second)
	e.loop.Flush()
	if e.answers.count() != 0 {
		t.Fatal("autosave ran with no answers")
	}

	qs := e.ctrl.Questions()
	e.ctrl.Select(qs[0].ID, "a")
	e.clock.Advance(10 * time.Second)
	e.loop.RunPending()
	e.ctrl.Select(qs[1].ID, "b")
	e.clock.Advance(20 * time.Second)
	e.loop.Flush()

	if e.answers.count() != 1 {
		t.Fatalf("saves = %d, want 1", e.answers.count())
	}
	if saved := e.answers.saves[0]; len(saved) != 2 {
		t.Fatalf("saved %v, want both answers", saved)
	}
}

func TestCheckpointsOpenCaptureOnce(t *testing.T) {
	opts := testOptions()
	e := newEnv(t, opts)
	e.attempt.DurationSeconds = 100
	e.build(opts)
	e.start(t)

	if snap := e.ctrl.Snapshot(); snap.Capture.Reason != capture.ReasonInitial || snap.Capture.State != capture.StatePreviewing {
		t.Fatalf("initial capture = %+v", snap.Capture)
	}
	e.ctrl.Capture()
	e.loop.Flush()
	if e.ctrl.Snapshot().Capture.Open {
		t.Fatal("modal still open after the initial photo")
	}
	if e.audit.kinds()[model.AuditPhotoTaken] != 1 {
		t.Fatalf("audit kinds = %v", e.audit.kinds())
	}

	e.clock.Advance(25 * time.Second)
	e.loop.Flush()
	if c := e.ctrl.Snapshot().Capture; !c.Open || c.Reason != "checkpoint 25%" {
		t.Fatalf("capture at 25%% = %+v", c)
	}

	// 50% passes while the 25% modal is still open and is spent.
	e.clock.Advance(25 * time.Second)
	e.loop.Flush()
	if c := e.ctrl.Snapshot().Capture; c.Reason != "checkpoint 25%" {
		t.Fatalf("capture at 50%% = %+v", c)
	}

	e.ctrl.CloseCapture()
	e.clock.Advance(10 * time.Second)
	e.loop.Flush()
	if e.ctrl.Snapshot().Capture.Open {
		t.Fatal("spent checkpoint reopened the modal")
	}

	e.clock.Advance(15 * time.Second)
	e.loop.Flush()
	if c := e.ctrl.Snapshot().Capture; !c.Open || c.Reason != "checkpoint 75%" {
		t.Fatalf("capture at 75%% = %+v", c)
	}
}

func TestEmptyQuestionsStayPreparing(t *testing.T) {
	e := newEnv(t, testOptions())

	if err := e.ctrl.Start(nil, Prior{}); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("Start(nil) = %v, want ErrNoQuestions", err)
	}
	if snap := e.ctrl.Snapshot(); snap.Phase != PhasePreparing || snap.Question != nil {
		t.Fatalf("Snapshot() = %+v", snap)
	}
	if e.loop.ActiveTimers() != 0 {
		t.Fatal("timers armed without questions")
	}
}

func TestResumeRestoresState(t *testing.T) {
	opts := testOptions()
	e := newEnv(t, opts)
	e.attempt.DurationSeconds = 100
	e.attempt.StartedAt = e.clock.Now().Add(-40 * time.Second)
	e.attempt.Answers = model.Answers{"q2": "b", "gone": "a"}
	e.build(opts)

	src := testQuestions()
	order := shuffle.Order{
		Questions: []string{"q3", "q1", "q2"},
		Options:   map[string][]string{
			"q1": {"c", "b", "a"},
			"q2": {"a", "b", "c"},
			"q3": {"b", "c", "a"},
		},
	}
	if err := e.ctrl.Start(src, Prior{Order: &order, Violations: 2}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.loop.Flush()

	qs := e.ctrl.Questions()
	if qs[0].ID != "q3" || qs[1].Options[0].ID != "c" {
		t.Fatalf("stored order not restored: %v", shuffle.OrderOf(qs))
	}
	snap := e.ctrl.Snapshot()
	if snap.Violations != 2 || snap.RemainingSeconds != 60 {
		t.Fatalf("violations %d remaining %d", snap.Violations, snap.RemainingSeconds)
	}
	if got := e.ctrl.Answers(); len(got) != 1 || got["q2"] != "b" {
		t.Fatalf("Answers() = %v", got)
	}
	if !e.ctrl.fired[0] || e.ctrl.fired[1] {
		t.Fatalf("fired = %v, want only 25%% spent", e.ctrl.fired)
	}
	if snap.Capture.Reason != capture.ReasonInitial {
		t.Fatalf("resume did not re-run initial verification: %+v", snap.Capture)
	}
}

func TestReviewRequestIsOneShot(t *testing.T) {
	e := newEnv(t, testOptions())
	e.start(t)

	e.ctrl.RequestReview("before submit")
	e.loop.Flush()
	if e.review.calls != 0 {
		t.Fatal("review requested before completion")
	}

	e.ctrl.RequestSubmit()
	e.ctrl.ConfirmSubmit()
	e.loop.Flush()

	e.ctrl.RequestReview("please check q2")
	e.ctrl.RequestReview("again")
	e.loop.Flush()
	e.ctrl.RequestReview("and again")
	e.loop.Flush()

	if e.review.calls != 1 {
		t.Fatalf("review calls = %d, want 1", e.review.calls)
	}
	if snap := e.ctrl.Snapshot(); !snap.Result.ReviewRequested {
		t.Fatal("ReviewRequested not set")
	}
}
