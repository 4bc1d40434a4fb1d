package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/bookstore-api/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.insertedLogs = append(m.insertedLogs, log)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockAuditRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, userID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetByAction(ctx context.Context, action models.AuditAction, since time.Time, limit int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, action, since, limit)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

func TestAuditService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zaptest.NewLogger(t), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.ErrorIs(t, service.Stop(time.Second), ErrNotStarted)
}

func TestAuditService_LogEvent(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 2})
	require.NoError(t, service.Start())

	userID := uuid.New()
	log := models.NewAuditLog(models.AuditActionLoginSucceeded, "a***@example.com").WithUser(userID)
	require.NoError(t, service.LogEvent(log))

	// Stop drains the buffer
	require.NoError(t, service.Stop(5*time.Second))

	inserted := mockRepo.GetInsertedLogs()
	require.Len(t, inserted, 1)
	assert.Equal(t, models.AuditActionLoginSucceeded, inserted[0].Action)
	assert.Equal(t, userID, *inserted[0].UserID)
	assert.Equal(t, int64(1), service.GetStats().Written)
}

func TestAuditService_LogEventBeforeStartOrAfterStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	err := service.LogEvent(models.NewAuditLog(models.AuditActionLogout, ""))
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	// Must not panic on the closed channel
	err = service.LogEvent(models.NewAuditLog(models.AuditActionLogout, ""))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestAuditService_ConcurrentLogging(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, service.Start())

	goroutineCount := 10
	eventsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = service.LogEvent(models.NewAuditLog(models.AuditActionLoginFailed, "x***@example.com"))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), goroutineCount*eventsPerGoroutine)
}

func TestAuditService_BufferFullDropsWithoutBlocking(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		<-release
	})

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, service.Start())

	var full int
	start := time.Now()
	for i := 0; i < 20; i++ {
		if errors.Is(service.LogEvent(models.NewAuditLog(models.AuditActionLoginFailed, "")), ErrBufferFull) {
			full++
		}
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, full, 0)
	assert.Equal(t, int64(full), service.GetStats().Dropped)

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
}

func TestAuditService_InsertErrorIsLogged(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.LogEvent(models.NewAuditLog(models.AuditActionRegisterFailed, "")))
	require.NoError(t, service.Stop(5*time.Second))

	assert.Empty(t, mockRepo.GetInsertedLogs())
	assert.Equal(t, int64(0), service.GetStats().Written)
}

func TestAuditService_RecordEnrichesFromContext(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewAuditService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	var ctx context.Context
	chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	ctx = WithClient(ctx, ClientInfo{IPAddress: "203.0.113.7", UserAgent: "curl/8.0"})
	service.Record(ctx, models.NewAuditLog(models.AuditActionLoginFailed, "a***@example.com").
		WithReason(models.AuditReasonUnknownUser))

	require.NoError(t, service.Stop(5*time.Second))

	inserted := mockRepo.GetInsertedLogs()
	require.Len(t, inserted, 1)
	assert.Equal(t, "203.0.113.7", inserted[0].IPAddress)
	assert.Equal(t, "curl/8.0", inserted[0].UserAgent)
	assert.NotEmpty(t, inserted[0].RequestID)
	assert.Equal(t, models.AuditReasonUnknownUser, inserted[0].Reason)
}

func TestAuditService_Events(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	since := time.Now().Add(-time.Hour)
	mockRepo.On("GetByAction", mock.Anything, models.AuditActionLoginFailed, since, DefaultQueryLimit).
		Return(nil, nil).Once()
	mockRepo.On("GetByAction", mock.Anything, models.AuditActionLogout, since, 5).
		Return(nil, errors.New("connection refused")).Once()

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	logs, err := service.Events(context.Background(), models.AuditActionLoginFailed, since, 0)
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)

	_, err = service.Events(context.Background(), models.AuditActionLogout, since, 5)
	assert.Error(t, err)
	mockRepo.AssertExpectations(t)
}

func TestAuditService_UserEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	userID := uuid.New()
	stored := []*models.AuditLog{models.NewAuditLog(models.AuditActionLoginSucceeded, "a***@example.com").WithUser(userID)}
	mockRepo.On("GetByUserID", mock.Anything, userID, DefaultQueryLimit, 0).Return(stored, nil)

	service := NewAuditService(mockRepo, zap.NewNop(), DefaultConfig())

	logs, err := service.UserEvents(context.Background(), userID, 1000, -3)
	require.NoError(t, err)
	assert.Equal(t, stored, logs)
	mockRepo.AssertExpectations(t)
}
