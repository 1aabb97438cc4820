package risk

import (
	"sync"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/google/uuid"
)

// reservation is held from an ALLOW/DOWNSIZE decision until the matching
// ActionOutcome is ingested or the reservation expires, counting toward
// exposure to prevent over-commitment (I2).
type reservation struct {
	id        string
	wallet    string
	protocol  string
	asset     string
	notional  float64
	expiresAt time.Time
}

// reservationBook tracks outstanding reservations per protocol/asset so
// evaluate() can add them to realized exposure when checking caps.
type reservationBook struct {
	mu    sync.Mutex
	byID  map[string]*reservation
}

func newReservationBook() *reservationBook {
	return &reservationBook{byID: make(map[string]*reservation)}
}

func (b *reservationBook) hold(wallet, protocol, asset string, notional float64, ttl time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.byID[id] = &reservation{
		id: id, wallet: wallet, protocol: protocol, asset: asset,
		notional: notional, expiresAt: ttl,
	}
	return id
}

func (b *reservationBook) release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byID, id)
}

// outstandingByProtocol sums non-expired reservation notional for protocol.
func (b *reservationBook) outstandingByProtocol(protocol string, now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, r := range b.byID {
		if r.protocol == protocol && now.Before(r.expiresAt) {
			total += r.notional
		}
	}
	return total
}

// outstandingByAsset sums non-expired reservation notional for asset.
func (b *reservationBook) outstandingByAsset(asset string, now time.Time) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, r := range b.byID {
		if r.asset == asset && now.Before(r.expiresAt) {
			total += r.notional
		}
	}
	return total
}

// sweepExpired removes reservations past their TTL and returns the
// events that should be published for each — resolving the reservation
// TTL open question (spec.md §9).
func (b *reservationBook) sweepExpired(now time.Time) []domain.ReservationExpiredData {
	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []domain.ReservationExpiredData
	for id, r := range b.byID {
		if !now.Before(r.expiresAt) {
			expired = append(expired, domain.ReservationExpiredData{
				ReservationID: id,
				Wallet:        r.wallet,
				Protocol:      r.protocol,
				NotionalUSD:   r.notional,
			})
			delete(b.byID, id)
		}
	}
	return expired
}
