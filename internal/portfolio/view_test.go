package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	protocol string
	fail     bool
	pos      []domain.Position
}

func (f *fakeSource) Protocol() string { return f.protocol }

func (f *fakeSource) Positions(ctx context.Context, wallet domain.Wallet) ([]domain.Position, error) {
	if f.fail {
		return nil, errors.New("rpc down")
	}
	return f.pos, nil
}

func TestViewRefreshAggregates(t *testing.T) {
	wallets := []domain.Wallet{{ID: "w1"}}
	sources := []Source{
		&fakeSource{protocol: "scroll", pos: []domain.Position{{Wallet: "w1", Protocol: "scroll", Asset: "ETH", USDValue: 100}}},
		&fakeSource{protocol: "blast", pos: []domain.Position{{Wallet: "w1", Protocol: "blast", Asset: "ETH", USDValue: 50}}},
	}
	v := NewView(wallets, sources, Config{FreshnessWindow: time.Minute}, zerolog.Nop())

	snap, err := v.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 150.0, snap.TotalUSD)
	require.Equal(t, 100.0, snap.ExposureUSD("scroll"))
}

func TestViewRefreshStrictFailsClosed(t *testing.T) {
	wallets := []domain.Wallet{{ID: "w1"}}
	sources := []Source{&fakeSource{protocol: "scroll", fail: true}}
	v := NewView(wallets, sources, Config{Strict: true}, zerolog.Nop())

	_, err := v.Refresh(context.Background())
	require.Error(t, err)
	var unavailable *PortfolioUnavailable
	require.ErrorAs(t, err, &unavailable)
}

func TestViewTimestampsStrictlyIncrease(t *testing.T) {
	wallets := []domain.Wallet{{ID: "w1"}}
	sources := []Source{&fakeSource{protocol: "scroll", pos: nil}}
	v := NewView(wallets, sources, Config{}, zerolog.Nop())

	first, err := v.Refresh(context.Background())
	require.NoError(t, err)
	second, err := v.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, second.Time.After(first.Time))
}
