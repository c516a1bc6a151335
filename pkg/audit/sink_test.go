package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *Event {
	return &Event{
		Time:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Action:    ActionLogin,
		Outcome:   OutcomeFailure,
		ActorID:   "id-1",
		IP:        "203.0.113.9",
		RequestID: "req-1",
		Error:     "secret mismatch",
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	event := sampleEvent()

	data, err := event.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, event.Action, parsed.Action)
	assert.Equal(t, event.Outcome, parsed.Outcome)
	assert.Equal(t, event.ActorID, parsed.ActorID)
	assert.True(t, event.Time.Equal(parsed.Time))
}

func TestLogSink_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(&buf)

	require.NoError(t, sink.Emit(context.Background(), sampleEvent()))
	require.NoError(t, sink.Emit(context.Background(), sampleEvent()))
	require.NoError(t, sink.Close())

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		event, err := FromJSON(scanner.Bytes())
		require.NoError(t, err)
		assert.Equal(t, ActionLogin, event.Action)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestLogSink_ConcurrentEmits(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Emit(context.Background(), sampleEvent())
		}()
	}
	wg.Wait()

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		_, err := FromJSON(scanner.Bytes())
		require.NoError(t, err, "interleaved write corrupted a line")
		lines++
	}
	assert.Equal(t, 50, lines)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Emit(context.Background(), sampleEvent()))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	event, err := FromJSON(bytes.TrimSpace(data))
	require.NoError(t, err)
	assert.Equal(t, ActionLogin, event.Action)
}

// failingSink always fails to deliver.
type failingSink struct{}

func (failingSink) Emit(ctx context.Context, event *Event) error { return errors.New("disk full") }
func (failingSink) Close() error                                 { return nil }

// captureSink records delivered events.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *captureSink) Emit(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestMultiSink_FansOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	multi := NewMultiSink(a, b)

	require.NoError(t, multi.Emit(context.Background(), sampleEvent()))
	require.NoError(t, multi.Close())

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestMultiSink_FailureDoesNotBlockOthers(t *testing.T) {
	healthy := &captureSink{}
	multi := NewMultiSink(failingSink{}, healthy)

	require.NoError(t, multi.Emit(context.Background(), sampleEvent()))
	require.NoError(t, multi.Close())

	assert.Equal(t, 1, healthy.count())

	select {
	case err := <-multi.Errors():
		assert.Error(t, err)
	default:
		t.Fatal("expected a delivery failure on the error channel")
	}
}

func TestMultiSink_SurvivesCanceledContext(t *testing.T) {
	sink := &captureSink{}
	multi := NewMultiSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, multi.Emit(ctx, sampleEvent()))
	require.NoError(t, multi.Close())
	assert.Equal(t, 1, sink.count())
}

func TestSinkFromContext(t *testing.T) {
	sink := &captureSink{}
	ctx := WithSink(context.Background(), sink)

	FromContext(ctx).Emit(ctx, sampleEvent())
	assert.Equal(t, 1, sink.count())

	// Without a sink in context the no-op sink swallows the event.
	assert.NoError(t, FromContext(context.Background()).Emit(context.Background(), sampleEvent()))
}
