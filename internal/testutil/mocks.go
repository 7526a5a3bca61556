// Package testutil provides test utilities including mocks and test database helpers.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/mescon/Seedrarr/internal/clock"
	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/eventbus"
	"github.com/mescon/Seedrarr/internal/integration"
)

// =============================================================================
// MockClock - Testable time abstraction
// =============================================================================

// MockClock implements clock.Clock for testing, providing deterministic control
// over time-dependent operations like archive polling and retry backoff.
type MockClock struct {
	mu           sync.Mutex
	now          time.Time
	sleeps       []time.Duration
	pendingFuncs []pendingFunc
}

type pendingFunc struct {
	executeAt time.Time
	fn        func()
	stopped   bool
}

// MockTimer implements clock.Timer for testing.
type MockTimer struct {
	clock *MockClock
	index int
}

// Compile-time assertion that MockClock implements clock.Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a new MockClock with the current time as initial value.
func NewMockClock() *MockClock {
	return &MockClock{
		now: time.Now(),
	}
}

// NewMockClockAt creates a new MockClock with a specific initial time.
func NewMockClockAt(t time.Time) *MockClock {
	return &MockClock{
		now: t,
	}
}

// Now returns the mock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// SetNow sets the mock's current time without triggering pending functions.
func (m *MockClock) SetNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Sleep advances the mock's time by d and returns immediately, recording the
// requested duration so tests can assert on pacing without real delays.
func (m *MockClock) Sleep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.sleeps = append(m.sleeps, d)
}

// Sleeps returns the durations passed to Sleep, in call order.
func (m *MockClock) Sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]time.Duration, len(m.sleeps))
	copy(result, m.sleeps)
	return result
}

// AfterFunc schedules f to be called after duration d.
// Returns a Timer that can be used to cancel the call.
func (m *MockClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	executeAt := m.now.Add(d)
	index := len(m.pendingFuncs)
	m.pendingFuncs = append(m.pendingFuncs, pendingFunc{
		executeAt: executeAt,
		fn:        f,
		stopped:   false,
	})

	return &MockTimer{clock: m, index: index}
}

// Advance moves time forward by the given duration and executes any functions
// whose scheduled time has passed. Returns the number of functions executed.
func (m *MockClock) Advance(d time.Duration) int {
	m.mu.Lock()
	newTime := m.now.Add(d)
	m.now = newTime

	var toExecute []func()
	for i := range m.pendingFuncs {
		pf := &m.pendingFuncs[i]
		if !pf.stopped && !pf.executeAt.After(newTime) {
			toExecute = append(toExecute, pf.fn)
			pf.stopped = true
		}
	}
	m.mu.Unlock()

	// Execute outside the lock to avoid deadlocks
	for _, fn := range toExecute {
		fn()
	}
	return len(toExecute)
}

// FireAll immediately executes all pending scheduled functions, regardless of
// their scheduled time.
func (m *MockClock) FireAll() int {
	m.mu.Lock()
	var toExecute []func()
	for i := range m.pendingFuncs {
		pf := &m.pendingFuncs[i]
		if !pf.stopped {
			toExecute = append(toExecute, pf.fn)
			pf.stopped = true
		}
	}
	m.mu.Unlock()

	for _, fn := range toExecute {
		fn()
	}
	return len(toExecute)
}

// PendingCount returns the number of scheduled functions that haven't been
// executed or stopped.
func (m *MockClock) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, pf := range m.pendingFuncs {
		if !pf.stopped {
			count++
		}
	}
	return count
}

// Stop prevents the timer from firing. Returns true if the timer was stopped,
// false if it had already fired or been stopped.
func (t *MockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index < len(t.clock.pendingFuncs) && !t.clock.pendingFuncs[t.index].stopped {
		t.clock.pendingFuncs[t.index].stopped = true
		return true
	}
	return false
}

// =============================================================================
// MockCall - Shared call recording
// =============================================================================

// MockCall records a method call for verification in tests.
type MockCall struct {
	Method string
	Args   []interface{}
}

// =============================================================================
// MockSeedrClient - Mock for integration.SeedrAPI
// =============================================================================

// MockSeedrClient implements integration.SeedrAPI for testing.
// All methods delegate to configurable function fields, allowing test-specific behavior.
type MockSeedrClient struct {
	AddTorrentFunc            func(source integration.TorrentSource) (*integration.SubmitResponse, error)
	GetTaskFunc               func(taskID string) (*integration.Task, error)
	GetTaskProgressFunc       func(taskID string) (*integration.Task, error)
	GetTaskContentsFunc       func(taskID string) ([]domain.RemoteItem, error)
	GetTasksFunc              func() ([]integration.Task, error)
	PauseTaskFunc             func(taskID string) error
	ResumeTaskFunc            func(taskID string) error
	DeleteTaskFunc            func(taskID string) error
	GetFolderContentsFunc     func(folderID string) ([]domain.RemoteItem, error)
	GetDownloadURLFunc        func(fileID string) (string, error)
	DownloadFileFunc          func(fileID, savePath string) error
	DownloadFolderArchiveFunc func(folderID, savePath string) error
	GetAccountInfoFunc        func() (map[string]interface{}, error)

	// Call tracking for assertions
	mu    sync.Mutex
	Calls []MockCall
}

// Compile-time assertion that MockSeedrClient implements integration.SeedrAPI
var _ integration.SeedrAPI = (*MockSeedrClient)(nil)

func (m *MockSeedrClient) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// CallCount returns the number of times a method was called.
func (m *MockSeedrClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.Calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

// ResetCalls clears the call history.
func (m *MockSeedrClient) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *MockSeedrClient) AddTorrent(ctx context.Context, source integration.TorrentSource) (*integration.SubmitResponse, error) {
	m.recordCall("AddTorrent", source)
	if m.AddTorrentFunc != nil {
		return m.AddTorrentFunc(source)
	}
	return &integration.SubmitResponse{Success: true, TaskID: "1"}, nil
}

func (m *MockSeedrClient) GetTask(ctx context.Context, taskID string) (*integration.Task, error) {
	m.recordCall("GetTask", taskID)
	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(taskID)
	}
	return &integration.Task{ID: taskID, Status: "downloading"}, nil
}

func (m *MockSeedrClient) GetTaskProgress(ctx context.Context, taskID string) (*integration.Task, error) {
	m.recordCall("GetTaskProgress", taskID)
	if m.GetTaskProgressFunc != nil {
		return m.GetTaskProgressFunc(taskID)
	}
	return &integration.Task{ID: taskID, Status: "downloading"}, nil
}

func (m *MockSeedrClient) GetTaskContents(ctx context.Context, taskID string) ([]domain.RemoteItem, error) {
	m.recordCall("GetTaskContents", taskID)
	if m.GetTaskContentsFunc != nil {
		return m.GetTaskContentsFunc(taskID)
	}
	return nil, nil
}

func (m *MockSeedrClient) GetTasks(ctx context.Context) ([]integration.Task, error) {
	m.recordCall("GetTasks")
	if m.GetTasksFunc != nil {
		return m.GetTasksFunc()
	}
	return nil, nil
}

func (m *MockSeedrClient) PauseTask(ctx context.Context, taskID string) error {
	m.recordCall("PauseTask", taskID)
	if m.PauseTaskFunc != nil {
		return m.PauseTaskFunc(taskID)
	}
	return nil
}

func (m *MockSeedrClient) ResumeTask(ctx context.Context, taskID string) error {
	m.recordCall("ResumeTask", taskID)
	if m.ResumeTaskFunc != nil {
		return m.ResumeTaskFunc(taskID)
	}
	return nil
}

func (m *MockSeedrClient) DeleteTask(ctx context.Context, taskID string) error {
	m.recordCall("DeleteTask", taskID)
	if m.DeleteTaskFunc != nil {
		return m.DeleteTaskFunc(taskID)
	}
	return nil
}

func (m *MockSeedrClient) GetFolderContents(ctx context.Context, folderID string) ([]domain.RemoteItem, error) {
	m.recordCall("GetFolderContents", folderID)
	if m.GetFolderContentsFunc != nil {
		return m.GetFolderContentsFunc(folderID)
	}
	return nil, nil
}

func (m *MockSeedrClient) GetDownloadURL(ctx context.Context, fileID string) (string, error) {
	m.recordCall("GetDownloadURL", fileID)
	if m.GetDownloadURLFunc != nil {
		return m.GetDownloadURLFunc(fileID)
	}
	return "", nil
}

func (m *MockSeedrClient) DownloadFile(ctx context.Context, fileID, savePath string) error {
	m.recordCall("DownloadFile", fileID, savePath)
	if m.DownloadFileFunc != nil {
		return m.DownloadFileFunc(fileID, savePath)
	}
	return nil
}

func (m *MockSeedrClient) DownloadFolderArchive(ctx context.Context, folderID, savePath string) error {
	m.recordCall("DownloadFolderArchive", folderID, savePath)
	if m.DownloadFolderArchiveFunc != nil {
		return m.DownloadFolderArchiveFunc(folderID, savePath)
	}
	return nil
}

func (m *MockSeedrClient) GetAccountInfo(ctx context.Context) (map[string]interface{}, error) {
	m.recordCall("GetAccountInfo")
	if m.GetAccountInfoFunc != nil {
		return m.GetAccountInfoFunc()
	}
	return nil, nil
}

// =============================================================================
// MockSonarrClient - Mock for integration.SonarrAPI
// =============================================================================

// MockSonarrClient implements integration.SonarrAPI for testing.
type MockSonarrClient struct {
	CommandDownloadScanFunc func(path string) (map[string]interface{}, error)
	GetSeriesFunc           func() ([]integration.Series, error)
	GetSeriesByIDFunc       func(seriesID int64) (*integration.Series, error)
	GetRootFoldersFunc      func() ([]integration.RootFolder, error)
	GetMissingEpisodesFunc  func() ([]integration.MissingEpisode, error)

	mu    sync.Mutex
	Calls []MockCall
}

// Compile-time assertion that MockSonarrClient implements integration.SonarrAPI
var _ integration.SonarrAPI = (*MockSonarrClient)(nil)

func (m *MockSonarrClient) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// CallCount returns the number of times a method was called.
func (m *MockSonarrClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, call := range m.Calls {
		if call.Method == method {
			count++
		}
	}
	return count
}

func (m *MockSonarrClient) CommandDownloadScan(ctx context.Context, path string) (map[string]interface{}, error) {
	m.recordCall("CommandDownloadScan", path)
	if m.CommandDownloadScanFunc != nil {
		return m.CommandDownloadScanFunc(path)
	}
	return map[string]interface{}{"name": "DownloadedEpisodesScan", "status": "queued"}, nil
}

func (m *MockSonarrClient) GetSeries(ctx context.Context) ([]integration.Series, error) {
	m.recordCall("GetSeries")
	if m.GetSeriesFunc != nil {
		return m.GetSeriesFunc()
	}
	return nil, nil
}

func (m *MockSonarrClient) GetSeriesByID(ctx context.Context, seriesID int64) (*integration.Series, error) {
	m.recordCall("GetSeriesByID", seriesID)
	if m.GetSeriesByIDFunc != nil {
		return m.GetSeriesByIDFunc(seriesID)
	}
	return nil, nil
}

func (m *MockSonarrClient) GetRootFolders(ctx context.Context) ([]integration.RootFolder, error) {
	m.recordCall("GetRootFolders")
	if m.GetRootFoldersFunc != nil {
		return m.GetRootFoldersFunc()
	}
	return nil, nil
}

func (m *MockSonarrClient) GetMissingEpisodes(ctx context.Context) ([]integration.MissingEpisode, error) {
	m.recordCall("GetMissingEpisodes")
	if m.GetMissingEpisodesFunc != nil {
		return m.GetMissingEpisodesFunc()
	}
	return nil, nil
}

// =============================================================================
// MockEventBus - Synchronous in-memory event bus
// =============================================================================

// MockEventBus implements eventbus.Publisher for testing without a database.
// Events are delivered to subscribers synchronously for deterministic tests.
type MockEventBus struct {
	mu              sync.Mutex
	PublishedEvents []domain.Event
	Subscribers     map[domain.EventType][]func(domain.Event)
}

// Compile-time assertion that MockEventBus implements eventbus.Publisher
var _ eventbus.Publisher = (*MockEventBus)(nil)

// NewMockEventBus creates a new mock event bus.
func NewMockEventBus() *MockEventBus {
	return &MockEventBus{
		Subscribers: make(map[domain.EventType][]func(domain.Event)),
	}
}

// Publish stores the event and notifies subscribers synchronously.
func (m *MockEventBus) Publish(event domain.Event) error {
	m.mu.Lock()
	m.PublishedEvents = append(m.PublishedEvents, event)
	subscribers := m.Subscribers[event.EventType]
	m.mu.Unlock()

	for _, handler := range subscribers {
		handler(event)
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (m *MockEventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscribers[eventType] = append(m.Subscribers[eventType], handler)
}

// GetEvents returns all published events of a given type.
func (m *MockEventBus) GetEvents(eventType domain.EventType) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Event
	for _, e := range m.PublishedEvents {
		if e.EventType == eventType {
			result = append(result, e)
		}
	}
	return result
}

// EventCount returns the number of events of a given type.
func (m *MockEventBus) EventCount(eventType domain.EventType) int {
	return len(m.GetEvents(eventType))
}

// LastEvent returns the most recently published event, or nil if none.
func (m *MockEventBus) LastEvent() *domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PublishedEvents) == 0 {
		return nil
	}
	return &m.PublishedEvents[len(m.PublishedEvents)-1]
}

// Reset clears all published events and subscribers.
func (m *MockEventBus) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = nil
	m.Subscribers = make(map[domain.EventType][]func(domain.Event))
}
