package events

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	bus := NewBus(4, zerolog.Nop())
	var mu sync.Mutex
	var received []domain.EventData

	bus.Subscribe(domain.EventCircuitTripped, func(e *domain.Event) {
		mu.Lock()
		received = append(received, e.Data)
		mu.Unlock()
	})

	bus.Publish(domain.CircuitTrippedData{Reason: "daily_loss"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, time.Millisecond)
}

// I6 — sequence numbers strictly increase per topic.
func TestSequenceNumbersIncrease_I6(t *testing.T) {
	bus := NewBus(16, zerolog.Nop())
	var mu sync.Mutex
	var seqs []uint64
	bus.Subscribe(domain.EventMetricSampled, func(e *domain.Event) {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		bus.Publish(domain.MetricSampledData{Name: "x", Value: float64(i)})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		require.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestSlowSubscriberDropsWithoutBlockingPublisher(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	block := make(chan struct{})
	bus.Subscribe(domain.EventTaskStarted, func(e *domain.Event) {
		<-block // never returns until test closes it
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(domain.TaskStartedData{TaskInstanceID: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	require.Greater(t, bus.DroppedEvents(), uint64(0))
	close(block)
}

func TestJournalEncodesEvents(t *testing.T) {
	bus := NewBus(8, zerolog.Nop())
	var buf bytes.Buffer
	NewJournal(bus, &buf, zerolog.Nop())

	bus.Publish(domain.CircuitTrippedData{Reason: "test"})

	require.Eventually(t, func() bool {
		return buf.Len() > 0
	}, time.Second, time.Millisecond)
}
