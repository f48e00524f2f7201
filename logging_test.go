package greenloop

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEvent is a minimal logiface.Event implementation that records its
// fields.
type testEvent struct {
	logiface.UnimplementedEvent
	fields map[string]any
	level  logiface.Level
}

func (e *testEvent) Level() logiface.Level { return e.level }
func (e *testEvent) AddField(key string, val any) {
	e.fields[key] = val
}

// testEventFactory creates testEvent instances.
type testEventFactory struct{}

func (f *testEventFactory) NewEvent(level logiface.Level) *testEvent {
	return &testEvent{level: level, fields: make(map[string]any)}
}

// testEventWriter writes testEvent instances.
type testEventWriter struct {
	onWrite func(*testEvent) error
}

func (w *testEventWriter) Write(event *testEvent) error {
	if w.onWrite != nil {
		return w.onWrite(event)
	}
	return nil
}

// logCapture collects written events.
type logCapture struct {
	events []*testEvent
	mu     sync.Mutex
}

func (c *logCapture) Events() []*testEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*testEvent(nil), c.events...)
}

func newCaptureLogger(level logiface.Level) (*logiface.Logger[logiface.Event], *logCapture) {
	c := &logCapture{}
	writer := &testEventWriter{onWrite: func(event *testEvent) error {
		c.mu.Lock()
		c.events = append(c.events, event)
		c.mu.Unlock()
		return nil
	}}
	typedLogger := logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](&testEventFactory{}),
		logiface.WithWriter[*testEvent](writer),
		logiface.WithLevel[*testEvent](level),
	)
	return typedLogger.Logger(), c
}

func TestReportFault_LogsAtErrorLevel(t *testing.T) {
	logger, capture := newCaptureLogger(logiface.LevelInformational)
	loop := newTestLoop(t, WithLogger(logger))

	var after bool
	h, err := loop.CallSoon(func() { panic("boom") })
	require.NoError(t, err)
	_, err = loop.CallSoon(func() { after = true })
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.True(t, after, "the loop continues after a fault")

	events := capture.Events()
	require.Len(t, events, 1)
	assert.Equal(t, logiface.LevelError, events[0].level)
	assert.Equal(t, "callback fault", events[0].fields["msg"])
	assert.Contains(t, events[0].fields, "err")
	assert.Contains(t, events[0].fields, "handle")
	assert.Equal(t, KindImmediate.String(), events[0].fields["kind"])
	assert.Equal(t, HandleFired, h.State())
}

func TestReportFault_RateLimited(t *testing.T) {
	logger, capture := newCaptureLogger(logiface.LevelInformational)
	loop := newTestLoop(t,
		WithLogger(logger),
		WithFaultLogRates(map[time.Duration]int{time.Minute: 1}),
	)

	for i := 0; i < 3; i++ {
		_, err := loop.CallSoon(func() { panic(i) })
		require.NoError(t, err)
	}
	// separate category
	_, err := loop.CallLater(0, func() { panic("timer") })
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.Len(t, capture.Events(), 2)
	assert.EqualValues(t, 2, loop.SuppressedFaults())
}

func TestReportFault_Unlimited(t *testing.T) {
	logger, capture := newCaptureLogger(logiface.LevelInformational)
	loop := newTestLoop(t,
		WithLogger(logger),
		WithFaultLogRates(nil),
	)

	for i := 0; i < 50; i++ {
		_, err := loop.CallSoon(func() { panic(i) })
		require.NoError(t, err)
	}

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	assert.Len(t, capture.Events(), 50)
	assert.Zero(t, loop.SuppressedFaults())
}

func TestReportFault_PanickingExceptionHandlerIsLogged(t *testing.T) {
	logger, capture := newCaptureLogger(logiface.LevelInformational)
	loop := newTestLoop(t,
		WithLogger(logger),
		WithExceptionHandler(func(*Handle, error) { panic("handler") }),
	)

	_, err := loop.CallSoon(func() { panic("callback") })
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	events := capture.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "exception handler panicked", events[0].fields["msg"])
	assert.Equal(t, "callback fault", events[1].fields["msg"])
}

func TestLogCritical_WithEnabledLogger(t *testing.T) {
	logger, capture := newCaptureLogger(logiface.LevelInformational)
	loop := newTestLoop(t, WithLogger(logger))

	loop.logCritical("test critical message", errors.New("test error"))

	events := capture.Events()
	require.Len(t, events, 1)
	assert.Equal(t, logiface.LevelCritical, events[0].level)
	assert.Equal(t, "test critical message", events[0].fields["msg"])
}

func TestLogging_PanickingLogger(t *testing.T) {
	writer := &testEventWriter{
		onWrite: func(event *testEvent) error {
			panic("logger panic")
		},
	}
	typedLogger := logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](&testEventFactory{}),
		logiface.WithWriter[*testEvent](writer),
		logiface.WithLevel[*testEvent](logiface.LevelDebug),
	)
	loop := newTestLoop(t, WithLogger(typedLogger.Logger()))

	// Should not panic, falls back to log.Printf
	loop.logCritical("test critical with panic", errors.New("test error"))
	loop.logError("test error with panic", nil, errors.New("test error"))
	loop.logDebug("test debug with panic")

	_, err := loop.CallSoon(func() { panic("boom") })
	require.NoError(t, err)
	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
}

func TestLogging_NilLogger(t *testing.T) {
	loop := newTestLoop(t, WithLogger(nil))

	loop.logCritical("critical", errors.New("test error"))
	loop.logError("error", nil, errors.New("test error"))
	loop.logDebug("debug")
}

func TestLogDebug_Lifecycle(t *testing.T) {
	logger, capture := newCaptureLogger(logiface.LevelDebug)
	loop, err := New(WithLogger(logger))
	require.NoError(t, err)

	require.NoError(t, runWithTimeout(t, loop, 5*time.Second))
	require.NoError(t, loop.Destroy())

	var msgs []any
	for _, event := range capture.Events() {
		assert.Equal(t, logiface.LevelDebug, event.level)
		msgs = append(msgs, event.fields["msg"])
	}
	assert.Equal(t, []any{"loop started", "loop stopped", "destroying loop"}, msgs)
}
