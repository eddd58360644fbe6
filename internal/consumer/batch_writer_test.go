package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/domain"
	"github.com/BarkinBalci/engagement-engine/internal/metrics"
)

// MockEventRepository is a mock implementation of repository.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}

func (m *MockEventRepository) InitSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockEventRouter is a mock implementation of EventRouter
type MockEventRouter struct {
	mock.Mock
}

func (m *MockEventRouter) Route(ctx context.Context, events []*domain.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func createTestEnvelope(eventID string) *Envelope {
	event := &domain.Event{
		WorkspaceID: "ws-1",
		MessageID:   eventID,
		EventType:   domain.EventTypeTrack,
		Event:       "test_event",
		UserID:      "user123",
		OccurredAt:  testTime,
	}

	ack := func(ctx context.Context) error {
		return nil
	}

	nack := func(ctx context.Context) error {
		return nil
	}

	envelope := NewEnvelope(event, ack, nack)
	return envelope
}

func TestBatchWriter_Start_BatchSizeThreshold(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 3,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 3
	})).Return(3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 3 envelopes to trigger batch size threshold
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")
	in <- createTestEnvelope("3")

	// Give time for processing
	time.Sleep(100 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_TimeoutFlush(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 50 * time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 2 envelopes (less than max batch size)
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Wait for timeout to trigger flush
	time.Sleep(100 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_InsertSuccess(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	mockRepo.AssertExpectations(t)
}

func TestBatchWriter_Start_InsertFailure(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	insertErr := errors.New("database connection error")
	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(0, insertErr)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_PartialInsert(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 3,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	// Repository inserts only 2 out of 3 events
	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 3
	})).Return(2, nil) // Partial success

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Send 3 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")
	in <- createTestEnvelope("3")

	// Wait for processing
	time.Sleep(50 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_GracefulShutdown(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan *Envelope, 5)
	done := make(chan bool)

	go func() {
		writer.Start(ctx, in)
		done <- true
	}()

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Give time for messages to be received
	time.Sleep(10 * time.Millisecond)

	// Cancel context to trigger graceful shutdown
	cancel()

	// Wait for shutdown
	select {
	case <-done:
		// Shutdown completed
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Graceful shutdown took too long")
	}

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_InputChannelClosed(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2
	})).Return(2, nil)

	ctx := context.Background()

	in := make(chan *Envelope, 5)
	done := make(chan bool)

	go func() {
		writer.Start(ctx, in)
		done <- true
	}()

	// Send 2 envelopes
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")

	// Close input channel
	close(in)

	// Wait for shutdown
	select {
	case <-done:
		// Shutdown completed
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Shutdown took too long after input channel closed")
	}

	mockRepo.AssertExpectations(t)
	mockRepo.AssertCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}

func TestBatchWriter_Start_EmptyBatchNotFlushed(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 10,
		FlushTimeout: 50 * time.Millisecond,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 5)
	go writer.Start(ctx, in)

	// Don't send any envelopes

	// Wait for timeout
	<-ctx.Done()

	// InsertBatch should not be called for empty batch
	mockRepo.AssertNotCalled(t, "InsertBatch")
}

func TestBatchWriter_Start_MultipleBatches(t *testing.T) {
	mockRepo := new(MockEventRepository)
	log := zap.NewNop()

	config := BatchWriterConfig{
		MaxBatchSize: 2,
		FlushTimeout: 10 * time.Second,
	}

	writer := NewBatchWriter(mockRepo, nil, metrics.NewNop(), config, log)

	// Expect two batches of 2 events each
	mockRepo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2
	})).Return(2, nil).Times(2)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	in := make(chan *Envelope, 10)
	go writer.Start(ctx, in)

	// Send 4 envelopes (should create 2 batches)
	in <- createTestEnvelope("1")
	in <- createTestEnvelope("2")
	in <- createTestEnvelope("3")
	in <- createTestEnvelope("4")

	// Wait for processing
	time.Sleep(100 * time.Millisecond)

	mockRepo.AssertExpectations(t)
	mockRepo.AssertNumberOfCalls(t, "InsertBatch", 2)
}

// trackingEnvelope records whether it was acked or nacked
type trackingEnvelope struct {
	mu     sync.Mutex
	acked  int
	nacked int
}

func (e *trackingEnvelope) envelope(eventID string) *Envelope {
	env := createTestEnvelope(eventID)
	env.ack = func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.acked++
		return nil
	}
	env.nack = func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.nacked++
		return nil
	}
	return env
}

func (e *trackingEnvelope) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acked, e.nacked
}

func TestBatchWriter_processBatch_RoutesAfterInsert(t *testing.T) {
	mockRepo := new(MockEventRepository)
	mockRouter := new(MockEventRouter)
	m := metrics.NewNop()

	writer := NewBatchWriter(mockRepo, mockRouter, m, BatchWriterConfig{MaxBatchSize: 2, FlushTimeout: time.Second}, zap.NewNop())

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(2, nil)
	mockRouter.On("Route", mock.Anything, mock.MatchedBy(func(events []*domain.Event) bool {
		return len(events) == 2 && events[0].MessageID == "1" && events[1].MessageID == "2"
	})).Return(nil)

	tracker := &trackingEnvelope{}
	writer.processBatch(context.Background(), []*Envelope{tracker.envelope("1"), tracker.envelope("2")})

	acked, nacked := tracker.counts()
	assert.Equal(t, 2, acked)
	assert.Equal(t, 0, nacked)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsIngested))
	mockRepo.AssertExpectations(t)
	mockRouter.AssertExpectations(t)
}

func TestBatchWriter_processBatch_RouteFailureNacks(t *testing.T) {
	mockRepo := new(MockEventRepository)
	mockRouter := new(MockEventRouter)
	m := metrics.NewNop()

	writer := NewBatchWriter(mockRepo, mockRouter, m, BatchWriterConfig{MaxBatchSize: 2, FlushTimeout: time.Second}, zap.NewNop())

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(2, nil)
	mockRouter.On("Route", mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	tracker := &trackingEnvelope{}
	writer.processBatch(context.Background(), []*Envelope{tracker.envelope("1"), tracker.envelope("2")})

	acked, nacked := tracker.counts()
	assert.Equal(t, 0, acked)
	assert.Equal(t, 2, nacked)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.EventsIngested))
}

func TestBatchWriter_processBatch_InsertFailureSkipsRouting(t *testing.T) {
	mockRepo := new(MockEventRepository)
	mockRouter := new(MockEventRouter)

	writer := NewBatchWriter(mockRepo, mockRouter, metrics.NewNop(), BatchWriterConfig{MaxBatchSize: 1, FlushTimeout: time.Second}, zap.NewNop())

	mockRepo.On("InsertBatch", mock.Anything, mock.Anything).Return(0, errors.New("clickhouse down"))

	tracker := &trackingEnvelope{}
	writer.processBatch(context.Background(), []*Envelope{tracker.envelope("1")})

	_, nacked := tracker.counts()
	assert.Equal(t, 1, nacked)
	mockRouter.AssertNotCalled(t, "Route", mock.Anything, mock.Anything)
}
