package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cefrlab/speaking-test-service/internal/events"
	"github.com/cefrlab/speaking-test-service/internal/models"
	"github.com/cefrlab/speaking-test-service/internal/repositories"
	"github.com/cefrlab/speaking-test-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockTestRepository is a mock implementation of TestRepository
type MockTestRepository struct {
	mock.Mock
}

func (m *MockTestRepository) Create(ctx context.Context, test *models.Test) error {
	args := m.Called(ctx, test)
	return args.Error(0)
}

func (m *MockTestRepository) GetByTitle(ctx context.Context, title string) (*models.Test, error) {
	args := m.Called(ctx, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Test), args.Error(1)
}

func (m *MockTestRepository) GetRandom(ctx context.Context) (*models.Test, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Test), args.Error(1)
}

func (m *MockTestRepository) List(ctx context.Context, filters repositories.TestFilters) ([]*models.Test, int64, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]*models.Test), args.Get(1).(int64), args.Error(2)
}

func (m *MockTestRepository) Update(ctx context.Context, test *models.Test) error {
	args := m.Called(ctx, test)
	return args.Error(0)
}

func (m *MockTestRepository) Delete(ctx context.Context, title string) error {
	args := m.Called(ctx, title)
	return args.Error(0)
}

func (m *MockTestRepository) ExistsByTitle(ctx context.Context, title string) (bool, error) {
	args := m.Called(ctx, title)
	return args.Bool(0), args.Error(1)
}

func (m *MockTestRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// mockAssessor counts gateway calls and can be switched between success and
// failure between calls. Safe for concurrent use.
type mockAssessor struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	delay    time.Duration
	response string
}

func (a *mockAssessor) Assess(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	a.mu.Lock()
	a.calls++
	fail := a.fail
	delay := a.delay
	response := a.response
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return "", assert.AnError
	}
	return response, nil
}

func (a *mockAssessor) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func strPtr(s string) *string { return &s }

func demoTest(t *testing.T) *models.Test {
	t.Helper()
	test := &models.Test{Title: "Demo"}
	err := test.EncodeParts([]models.Part{
		{Name: "P1", Questions: []string{"Tell me about yourself.", "Describe your city."}},
		{Name: "P2", Question: strPtr("Is remote work good?"), For: []string{"flexibility"}, Against: []string{"isolation"}},
		{Name: "P3", Pictures: []string{"/images/p3.png"}},
	})
	require.NoError(t, err)
	return test
}

func newTestRegistry(repo repositories.TestRepository, assessor *mockAssessor, cfg RegistryConfig) (SessionRegistry, *events.MockEventPublisher) {
	publisher := events.NewMockEventPublisher()
	logger := slog.New(slog.DiscardHandler)
	return NewSessionRegistry(repo, assessor, publisher, utils.NewValidator(), logger, cfg), publisher
}

func TestSessionRegistry_Start(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	registry, publisher := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{})

	resp, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Demo", resp.TestTitle)
	require.Len(t, resp.Parts, 3)

	// Legacy singular question is normalized into the questions list.
	assert.Equal(t, []string{"Is remote work good?"}, resp.Parts[1].Questions)
	assert.Equal(t, []string{"flexibility"}, resp.Parts[1].For)

	// Image-only part still appears with empty (not nil) question list.
	assert.Equal(t, []string{}, resp.Parts[2].Questions)
	assert.Equal(t, []string{"/images/p3.png"}, resp.Parts[2].Pictures)

	assert.Equal(t, 1, registry.SessionCount())

	started := publisher.EventsOfType(events.SessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 3, started[0].Expected)
	repo.AssertExpectations(t)
}

func TestSessionRegistry_Start_RandomPick(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetRandom", mock.Anything).Return(demoTest(t), nil)

	registry, _ := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{})

	resp, err := registry.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Demo", resp.TestTitle)
	repo.AssertExpectations(t)
}

func TestSessionRegistry_Start_NoTests(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetRandom", mock.Anything).Return(nil, gorm.ErrRecordNotFound)

	registry, _ := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{})

	_, err := registry.Start(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoTestsAvailable)
}

func TestSessionRegistry_Start_FixedTitle(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	registry, _ := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{FixedTestTitle: "Demo"})

	resp, err := registry.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Demo", resp.TestTitle)
	repo.AssertExpectations(t)
}

func TestSessionRegistry_SubmitAnswer_UnknownSession(t *testing.T) {
	registry, _ := newTestRegistry(&MockTestRepository{}, &mockAssessor{}, RegistryConfig{})

	_, err := registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		SessionID:     "never-issued",
		Part:          "P1",
		QuestionIndex: 0,
	})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestSessionRegistry_SubmitAnswer_InvalidRequest(t *testing.T) {
	registry, _ := newTestRegistry(&MockTestRepository{}, &mockAssessor{}, RegistryConfig{})

	_, err := registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		SessionID: "some-session",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSessionRegistry_SubmitAnswer_RejectsAnswersOutsideTest(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	registry, publisher := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	// None of these name a question Demo asks: P1 has indexes 0-1, P3 is
	// image-only, and there is no part called NoSuchPart. Accepting them
	// would let a session complete with zero real answers.
	bogus := []struct {
		part  string
		index int
	}{
		{"NoSuchPart", 0},
		{"P1", 99},
		{"P3", 0},
	}
	for _, sub := range bogus {
		_, err := registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
			SessionID:     start.SessionID,
			Part:          sub.part,
			QuestionIndex: sub.index,
			Transcript:    "noise",
		})
		assert.ErrorIs(t, err, ErrInvalidRequest, "part %q index %d", sub.part, sub.index)
	}

	// The rejections left the session untouched: a real answer is still the
	// first one received and completion is nowhere near firing.
	resp, err := registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		SessionID: start.SessionID, Part: "P1", QuestionIndex: 0, Transcript: "a real answer",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Received)
	assert.Equal(t, 3, resp.Expected)
	assert.False(t, resp.Completed)

	assert.Empty(t, publisher.EventsOfType(events.SessionCompleted))
}

func TestSessionRegistry_CompletionScenario(t *testing.T) {
	// Demo has parts P1 (2 questions), P2 (1 question), P3 (0 questions):
	// expectedTotal = 3 and the image-only part never blocks completion.
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	assessor := &mockAssessor{response: `{"level":"B2","explanation":"solid","tip":"practice"}`}
	registry, publisher := newTestRegistry(repo, assessor, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	submissions := []struct {
		part      string
		index     int
		completed bool
	}{
		{"P1", 0, false},
		{"P1", 1, false},
		{"P2", 0, true},
	}

	for i, sub := range submissions {
		resp, err := registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
			SessionID:     start.SessionID,
			Part:          sub.part,
			QuestionIndex: sub.index,
			Transcript:    "answer",
		})
		require.NoError(t, err)
		assert.Equal(t, sub.completed, resp.Completed, "submission %d", i)
		assert.Equal(t, i+1, resp.Received)
		assert.Equal(t, 3, resp.Expected)
	}

	final, err := registry.ComputeFinalResult(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "B2", final.Final.Level)
	assert.False(t, final.Cached)

	completed := publisher.EventsOfType(events.SessionCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 3, completed[0].Received)
}

func TestSessionRegistry_SubmitAnswer_ReplacesByIndex(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	registry, _ := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	first, err := registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		SessionID: start.SessionID, Part: "P1", QuestionIndex: 0, Transcript: "first take",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Received)

	// Same (part, index) again: the transcript is replaced, the count is not
	// incremented, and completion does not fire early.
	second, err := registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		SessionID: start.SessionID, Part: "P1", QuestionIndex: 0, Transcript: "second take",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Received)
	assert.False(t, second.Completed)
}

func TestSessionRegistry_ComputeFinalResult_Memoized(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	assessor := &mockAssessor{response: `{"level":"C1","explanation":"fluent","tip":"keep going"}`}
	registry, _ := newTestRegistry(repo, assessor, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	first, err := registry.ComputeFinalResult(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := registry.ComputeFinalResult(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Final, second.Final)
	assert.Equal(t, first.Raw, second.Raw)

	assert.Equal(t, 1, assessor.callCount())
}

func TestSessionRegistry_ComputeFinalResult_SingleFlight(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	assessor := &mockAssessor{
		response: `{"level":"B1","explanation":"ok","tip":"vocabulary"}`,
		delay:    50 * time.Millisecond,
	}
	registry, _ := newTestRegistry(repo, assessor, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	// Race the "last answer" path against the "poll for result" path.
	const callers = 8
	results := make([]*FinalResultResponse, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = registry.ComputeFinalResult(context.Background(), start.SessionID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "B1", results[i].Final.Level)
		assert.Equal(t, results[0].Raw, results[i].Raw)
	}

	assert.Equal(t, 1, assessor.callCount(), "assessment gateway must be called at most once per session")
}

func TestSessionRegistry_ComputeFinalResult_GatewayFailureIsRetryable(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	assessor := &mockAssessor{fail: true}
	registry, _ := newTestRegistry(repo, assessor, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	_, err = registry.ComputeFinalResult(context.Background(), start.SessionID)
	assert.ErrorIs(t, err, ErrAssessmentUnavailable)

	// Nothing was cached, so once the upstream recovers a retry succeeds.
	assessor.mu.Lock()
	assessor.fail = false
	assessor.response = `{"level":"A2","explanation":"basic","tip":"listen more"}`
	assessor.mu.Unlock()

	resp, err := registry.ComputeFinalResult(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "A2", resp.Final.Level)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, assessor.callCount())
}

func TestSessionRegistry_ComputeFinalResult_TestVanished(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil).Once()
	repo.On("GetByTitle", mock.Anything, "Demo").Return(nil, gorm.ErrRecordNotFound)

	registry, _ := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	_, err = registry.ComputeFinalResult(context.Background(), start.SessionID)
	assert.ErrorIs(t, err, ErrTestNotFound)
}

func TestSessionRegistry_ComputeFinalResult_MalformedOutputDegrades(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	assessor := &mockAssessor{response: "I think the student is quite good overall."}
	registry, _ := newTestRegistry(repo, assessor, RegistryConfig{})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)

	resp, err := registry.ComputeFinalResult(context.Background(), start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", resp.Final.Level)
	assert.Equal(t, "I think the student is quite good overall.", resp.Final.Explanation)
	assert.Empty(t, resp.Final.Tip)
}

func TestSessionRegistry_SweepExpired(t *testing.T) {
	repo := &MockTestRepository{}
	repo.On("GetByTitle", mock.Anything, "Demo").Return(demoTest(t), nil)

	registry, _ := newTestRegistry(repo, &mockAssessor{response: "{}"}, RegistryConfig{
		SessionTTL: time.Millisecond,
	})

	start, err := registry.Start(context.Background(), "Demo")
	require.NoError(t, err)
	require.Equal(t, 1, registry.SessionCount())

	time.Sleep(5 * time.Millisecond)

	swept := registry.SweepExpired(context.Background())
	assert.Equal(t, 1, swept)
	assert.Equal(t, 0, registry.SessionCount())

	_, err = registry.SubmitAnswer(context.Background(), &SubmitAnswerRequest{
		SessionID: start.SessionID, Part: "P1", QuestionIndex: 0,
	})
	assert.ErrorIs(t, err, ErrUnknownSession)
}
