package events

import (
	"io"
	"sync"

	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// AllTopics lists every EventType the Event Bus carries; Journal
// subscribes to all of them so the on-disk log is a complete history.
var AllTopics = []domain.EventType{
	domain.EventRiskStateChanged,
	domain.EventAllocationChanged,
	domain.EventTaskScheduled,
	domain.EventTaskStarted,
	domain.EventTaskSucceeded,
	domain.EventTaskFailed,
	domain.EventTaskRetrying,
	domain.EventCircuitTripped,
	domain.EventMetricSampled,
	domain.EventReservationExpired,
	domain.EventAllocationFallback,
}

// journalRecord is the msgpack-encoded wire shape written per event. The
// EventData payload is encoded as-is; msgpack writes a struct as a map
// keyed by field name, so a single decoder can read back records without
// knowing every concrete EventData type.
type journalRecord struct {
	Seq           uint64
	TimestampUnix int64
	Type          string
	Severity      string
	CorrelationID string
	Data          any
}

// Journal subscribes to every topic on a Bus and msgpack-encodes each
// event to an underlying writer, append-only, matching the "Event...
// Append-only, totally ordered" invariant from the data model.
type Journal struct {
	mu  sync.Mutex
	enc *msgpack.Encoder
	log zerolog.Logger
}

// NewJournal creates a Journal writing to w and subscribes it to every
// known topic on bus.
func NewJournal(bus *Bus, w io.Writer, log zerolog.Logger) *Journal {
	j := &Journal{enc: msgpack.NewEncoder(w), log: log.With().Str("component", "event_journal").Logger()}
	for _, topic := range AllTopics {
		bus.Subscribe(topic, j.write)
	}
	return j
}

func (j *Journal) write(e *domain.Event) {
	rec := journalRecord{
		Seq:           e.Seq,
		TimestampUnix: e.Timestamp.Unix(),
		Type:          string(e.Type),
		Severity:      string(e.Severity),
		CorrelationID: e.CorrelationID,
		Data:          e.Data,
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(rec); err != nil {
		j.log.Error().Err(err).Msg("failed to journal event")
	}
}
