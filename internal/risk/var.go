package risk

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PortfolioRisk is a read-only diagnostic — historical VaR/CVaR at the
// given confidence levels, computed from a series of portfolio value
// snapshots. This is informational, not a gate: it never feeds into
// Evaluate. It is not part of the operator status response.
type PortfolioRisk struct {
	VaR95  float64
	VaR99  float64
	CVaR95 float64
	CVaR99 float64
}

// CalculateReturns converts a chronological series of portfolio USD
// values into simple period returns.
func CalculateReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, (values[i]-values[i-1])/values[i-1])
	}
	return returns
}

// HistoricalVaRCVaR computes historical (non-parametric) VaR/CVaR at the
// 95% and 99% confidence levels from a series of portfolio values,
// mirroring the historical-simulation approach used elsewhere in this
// codebase for portfolio risk reporting.
func HistoricalVaRCVaR(values []float64) PortfolioRisk {
	returns := CalculateReturns(values)
	if len(returns) == 0 {
		return PortfolioRisk{}
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	var95 := quantileLoss(sorted, 0.05)
	var99 := quantileLoss(sorted, 0.01)

	return PortfolioRisk{
		VaR95:  var95,
		VaR99:  var99,
		CVaR95: tailMeanLoss(sorted, 0.05),
		CVaR99: tailMeanLoss(sorted, 0.01),
	}
}

// quantileLoss returns the loss (positive number) at the given left-tail
// probability using gonum's empirical quantile.
func quantileLoss(sortedReturns []float64, p float64) float64 {
	if len(sortedReturns) == 0 {
		return 0
	}
	q := stat.Quantile(p, stat.Empirical, sortedReturns, nil)
	if q > 0 {
		return 0
	}
	return -q
}

// tailMeanLoss averages the returns at or below the p-quantile (expected
// shortfall), returned as a positive loss figure.
func tailMeanLoss(sortedReturns []float64, p float64) float64 {
	if len(sortedReturns) == 0 {
		return 0
	}
	cutoffIdx := int(p * float64(len(sortedReturns)))
	if cutoffIdx < 1 {
		cutoffIdx = 1
	}
	tail := sortedReturns[:cutoffIdx]
	mean := stat.Mean(tail, nil)
	if mean > 0 {
		return 0
	}
	return -mean
}
