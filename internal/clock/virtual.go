package clock

import (
	"sync"
	"time"

	"github.com/aristath/farmd/internal/domain"
)

// Virtual is a Clock implementation for tests: time and the market
// snapshot are both set explicitly by the test, never derived from
// wall-clock reads.
type Virtual struct {
	mu   sync.Mutex
	now  time.Time
	snap domain.MarketSnapshot
	err  error
}

// NewVirtual creates a Virtual clock pinned to start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the clock's current virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the virtual clock forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
}

// SetSnapshot installs the MarketSnapshot Snapshot() will return.
func (v *Virtual) SetSnapshot(snap domain.MarketSnapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap = snap
	v.err = nil
}

// SetStale forces the next Snapshot() call to return a StaleDataError.
func (v *Virtual) SetStale(age, maxAge time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = &StaleDataError{Age: age, MaxAge: maxAge}
}

// Snapshot returns the installed MarketSnapshot or the installed error.
func (v *Virtual) Snapshot() (domain.MarketSnapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return domain.MarketSnapshot{}, v.err
	}
	return v.snap, nil
}
