package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cefrlab/speaking-test-service/internal/events"
	"github.com/cefrlab/speaking-test-service/internal/gateways"
	"github.com/cefrlab/speaking-test-service/internal/models"
	"github.com/cefrlab/speaking-test-service/internal/repositories"
	"github.com/cefrlab/speaking-test-service/internal/utils"
	"github.com/google/uuid"
)

const defaultSessionTTL = 2 * time.Hour

// SessionRegistry holds all in-progress sessions and owns the answer
// collection state machine: session creation, per-question answer ingestion,
// completion detection, and exactly-once final scoring.
type SessionRegistry interface {
	// Start resolves a test (by title, by the configured fixed title, or at
	// random) and creates a session for it.
	Start(ctx context.Context, title string) (*StartTestResponse, error)

	// SubmitAnswer records one transcribed answer. A resubmission for the
	// same (part, question index) replaces the stored transcript without
	// double-counting toward completion.
	SubmitAnswer(ctx context.Context, req *SubmitAnswerRequest) (*SubmitAnswerResponse, error)

	// ComputeFinalResult returns the session's verdict, computing it on
	// first call and serving the cached copy afterwards. At most one
	// assessment gateway call is ever in flight per session.
	ComputeFinalResult(ctx context.Context, sessionID string) (*FinalResultResponse, error)

	// SweepExpired drops sessions past their TTL and reports how many.
	SweepExpired(ctx context.Context) int

	// StartSweeper runs SweepExpired on a background ticker until Close.
	StartSweeper(interval time.Duration)

	// SessionCount reports the number of registered sessions.
	SessionCount() int

	Close() error
}

// RegistryConfig holds tunables for the session registry.
type RegistryConfig struct {
	// FixedTestTitle pins Start to one test when the request names none.
	// Empty means a random pick.
	FixedTestTitle string

	// SessionTTL bounds how long an unanswered or uncollected session is
	// kept before the sweep drops it.
	SessionTTL time.Duration
}

type sessionRegistry struct {
	tests     repositories.TestRepository
	assessor  gateways.Assessor
	publisher events.EventPublisher
	validator *utils.Validator
	logger    *slog.Logger

	fixedTitle string
	ttl        time.Duration

	mu       sync.RWMutex
	sessions map[string]*session

	closeOnce sync.Once
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// session is one test-taker's in-progress attempt. All mutation happens
// under mu; the assessment gateway call in ComputeFinalResult also runs
// under mu, which is exactly what gives the single-flight guarantee.
type session struct {
	mu sync.Mutex

	id            string
	testTitle     string
	expectedTotal int
	receivedCount int
	answers       map[string][]models.Answer

	// questionCounts maps part name to its effective question count. Written
	// once before the session is registered, read-only afterwards; used to
	// reject submissions naming parts or indexes the test does not have.
	questionCounts map[string]int

	final    *models.FinalResult // write-once
	finalRaw string

	createdAt time.Time
	expiresAt time.Time
}

func NewSessionRegistry(
	tests repositories.TestRepository,
	assessor gateways.Assessor,
	publisher events.EventPublisher,
	validator *utils.Validator,
	logger *slog.Logger,
	cfg RegistryConfig,
) SessionRegistry {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &sessionRegistry{
		tests:      tests,
		assessor:   assessor,
		publisher:  publisher,
		validator:  validator,
		logger:     logger,
		fixedTitle: cfg.FixedTestTitle,
		ttl:        ttl,
		sessions:   make(map[string]*session),
		sweepStop:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
}

// ===== SESSION CREATION =====

func (r *sessionRegistry) Start(ctx context.Context, title string) (*StartTestResponse, error) {
	test, err := r.resolveTest(ctx, title)
	if err != nil {
		return nil, err
	}

	parts, err := test.DecodeParts()
	if err != nil {
		return nil, fmt.Errorf("failed to decode parts of test %q: %w", test.Title, err)
	}

	expected := 0
	counts := make(map[string]int, len(parts))
	views := make([]PartView, 0, len(parts))
	for _, part := range parts {
		norm := part.Normalized()
		expected += len(norm.Questions)
		counts[part.Name] = len(norm.Questions)
		views = append(views, PartView{
			Name:      part.Name,
			Questions: norm.Questions,
			Pictures:  norm.Pictures,
			For:       norm.For,
			Against:   norm.Against,
		})
	}

	now := time.Now()
	sess := &session{
		id:             uuid.NewString(),
		testTitle:      test.Title,
		expectedTotal:  expected,
		answers:        make(map[string][]models.Answer),
		questionCounts: counts,
		createdAt:      now,
		expiresAt:      now.Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()

	r.logger.Info("Session started",
		"session_id", sess.id,
		"test_title", test.Title,
		"expected_total", expected)

	event := events.NewSessionEvent(events.SessionStarted, sess.id, test.Title)
	event.Expected = expected
	r.publish(ctx, event)

	return &StartTestResponse{
		SessionID: sess.id,
		TestTitle: test.Title,
		Parts:     views,
	}, nil
}

func (r *sessionRegistry) resolveTest(ctx context.Context, title string) (*models.Test, error) {
	if title == "" {
		title = r.fixedTitle
	}

	if title != "" {
		test, err := r.tests.GetByTitle(ctx, title)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, ErrTestNotFound
			}
			return nil, fmt.Errorf("failed to get test %q: %w", title, err)
		}
		return test, nil
	}

	test, err := r.tests.GetRandom(ctx)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrNoTestsAvailable
		}
		return nil, fmt.Errorf("failed to get random test: %w", err)
	}
	return test, nil
}

// ===== ANSWER INGESTION =====

func (r *sessionRegistry) SubmitAnswer(ctx context.Context, req *SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	if err := r.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sess, ok := r.lookup(req.SessionID)
	if !ok {
		return nil, ErrUnknownSession
	}

	// Only answers to questions the test actually asks may count toward
	// completion. questionCounts is immutable after Start, so no lock needed.
	count, known := sess.questionCounts[req.Part]
	if !known {
		return nil, fmt.Errorf("%w: test %q has no part %q", ErrInvalidRequest, sess.testTitle, req.Part)
	}
	if req.QuestionIndex >= count {
		return nil, fmt.Errorf("%w: part %q has %d question(s), index %d is out of range",
			ErrInvalidRequest, req.Part, count, req.QuestionIndex)
	}

	sess.mu.Lock()

	replaced := false
	recorded := sess.answers[req.Part]
	for i := range recorded {
		if recorded[i].QuestionIndex == req.QuestionIndex {
			recorded[i].Transcript = req.Transcript
			replaced = true
			break
		}
	}
	if !replaced {
		sess.answers[req.Part] = append(recorded, models.Answer{
			QuestionIndex: req.QuestionIndex,
			Transcript:    req.Transcript,
		})
		sess.receivedCount++
	}

	received := sess.receivedCount
	expected := sess.expectedTotal
	completed := received >= expected
	testTitle := sess.testTitle

	sess.mu.Unlock()

	r.logger.Info("Answer recorded",
		"session_id", req.SessionID,
		"part", req.Part,
		"question_index", req.QuestionIndex,
		"replaced", replaced,
		"received", received,
		"expected", expected)

	idx := req.QuestionIndex
	event := events.NewSessionEvent(events.AnswerRecorded, req.SessionID, testTitle)
	event.Part = req.Part
	event.QuestionIndex = &idx
	event.Received = received
	event.Expected = expected
	r.publish(ctx, event)

	if completed && !replaced {
		done := events.NewSessionEvent(events.SessionCompleted, req.SessionID, testTitle)
		done.Received = received
		done.Expected = expected
		r.publish(ctx, done)
	}

	return &SubmitAnswerResponse{
		Completed:  completed,
		Transcript: req.Transcript,
		Received:   received,
		Expected:   expected,
	}, nil
}

// ===== FINAL SCORING =====

func (r *sessionRegistry) ComputeFinalResult(ctx context.Context, sessionID string) (*FinalResultResponse, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}

	sess, ok := r.lookup(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}

	// The session lock wraps check-cache, gateway call, and store, so
	// concurrent callers never both reach the gateway: the loser of the
	// race blocks and then takes the cached branch.
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.final != nil {
		return &FinalResultResponse{
			Final:  *sess.final,
			Raw:    sess.finalRaw,
			Cached: true,
		}, nil
	}

	// Re-fetch by title rather than holding a live reference; the store may
	// have changed since the session started.
	test, err := r.tests.GetByTitle(ctx, sess.testTitle)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test %q: %w", sess.testTitle, err)
	}

	parts, err := test.DecodeParts()
	if err != nil {
		return nil, fmt.Errorf("failed to decode parts of test %q: %w", test.Title, err)
	}

	combined := buildCombinedTranscript(parts, sess.answers)
	userPrompt := "Student responses:\n\n" + combined

	raw, err := r.assessor.Assess(ctx, assessmentSystemPrompt, userPrompt)
	if err != nil {
		r.logger.Error("Assessment gateway call failed",
			"session_id", sessionID,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrAssessmentUnavailable, err)
	}

	result := parseFinalResult(raw)
	sess.final = &result
	sess.finalRaw = raw
	// Keep the verdict retrievable for one more TTL window.
	sess.expiresAt = time.Now().Add(r.ttl)

	r.logger.Info("Final result computed",
		"session_id", sessionID,
		"test_title", sess.testTitle,
		"level", result.Level)

	event := events.NewSessionEvent(events.ResultComputed, sessionID, sess.testTitle)
	event.Level = result.Level
	r.publish(ctx, event)

	return &FinalResultResponse{
		Final:  result,
		Raw:    raw,
		Cached: false,
	}, nil
}

// ===== EXPIRY =====

func (r *sessionRegistry) SweepExpired(ctx context.Context) int {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for id, sess := range r.sessions {
		if now.After(sess.expiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		r.logger.Info("Swept expired sessions", "count", len(expired))
	}
	return len(expired)
}

func (r *sessionRegistry) StartSweeper(interval time.Duration) {
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.SweepExpired(context.Background())
			case <-r.sweepStop:
				return
			}
		}
	}()
}

func (r *sessionRegistry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *sessionRegistry) Close() error {
	r.closeOnce.Do(func() {
		close(r.sweepStop)
	})
	return nil
}

// ===== HELPERS =====

func (r *sessionRegistry) lookup(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// publish is best-effort: event delivery failures never fail a request.
func (r *sessionRegistry) publish(ctx context.Context, event *events.SessionEvent) {
	if err := r.publisher.PublishSessionEvent(ctx, event); err != nil {
		r.logger.Warn("Failed to publish session event",
			"event_type", event.Type,
			"session_id", event.SessionID,
			"error", err)
	}
}
