// Package midprice maintains, per instrument, a sliding time window of
// mid-price samples and an incrementally updated reference price. The
// incremental paths are a bounded-error optimization; the periodic full
// recomputation is the source of truth.
package midprice

import (
	"time"

	"matching_go/internal/domain"
	"matching_go/pkg/numutil"

	"github.com/shopspring/decimal"
)

// DefaultMaxRecalculations bounds accumulated rounding drift: after this
// many incremental updates the reference price is recomputed from scratch.
const DefaultMaxRecalculations = 1000

type sample struct {
	price decimal.Decimal
	ts    time.Time
}

// Holder keeps the sample windows and reference prices. Single-writer,
// mutated only from the dispatch loop.
type Holder struct {
	retention   time.Duration
	maxRecalc   int
	samples     map[string][]sample
	reference   map[string]decimal.Decimal
	recalcCount int
}

// NewHolder creates an estimator with the given retention window. A
// maxRecalc of zero falls back to the default bound.
func NewHolder(retention time.Duration, maxRecalc int) *Holder {
	if maxRecalc <= 0 {
		maxRecalc = DefaultMaxRecalculations
	}
	return &Holder{
		retention: retention,
		maxRecalc: maxRecalc,
		samples:   make(map[string][]sample),
		reference: make(map[string]decimal.Decimal),
	}
}

// Add records one mid-price observation and folds it into the running
// estimate weighted by 1/(n+1).
func (h *Holder) Add(pair *domain.AssetPair, mid decimal.Decimal, now time.Time) {
	h.removeObsolete(pair.ID, now.Add(-h.retention))

	list := h.samples[pair.ID]
	ref := h.reference[pair.ID]

	switch {
	case len(list) == 0:
		h.reference[pair.ID] = mid
	case ref.IsZero():
		// Estimate degenerated to zero while samples remain: the
		// incremental state is unusable, recompute from scratch.
		h.samples[pair.ID] = append(list, sample{price: mid, ts: now})
		h.fullRecalculation(pair.ID)
		return
	default:
		n := decimal.NewFromInt(int64(len(list)))
		withNew := ref.Add(numutil.DivideMaxScale(mid, n))
		coef := numutil.DivideMaxScale(n.Add(decimal.NewFromInt(1)), n)
		h.reference[pair.ID] = numutil.DivideMaxScale(withNew, coef)
		h.recalcCount++
	}

	h.samples[pair.ID] = append(list, sample{price: mid, ts: now})

	if h.recalcCount >= h.maxRecalc {
		h.fullRecalculation(pair.ID)
	}
}

// ReferencePrice purges obsolete samples relative to asOf and returns
// the estimate scaled up to the instrument's accuracy. Reports false
// when no samples remain in the window.
func (h *Holder) ReferencePrice(pair *domain.AssetPair, asOf time.Time) (decimal.Decimal, bool) {
	h.removeObsolete(pair.ID, asOf.Add(-h.retention))

	if len(h.samples[pair.ID]) == 0 {
		return decimal.Zero, false
	}
	return numutil.ScaleRoundUp(h.reference[pair.ID], pair.Accuracy), true
}

// SampleCount returns the number of retained samples for an instrument.
func (h *Holder) SampleCount(instrument string) int {
	return len(h.samples[instrument])
}

// RecalculationCount returns the incremental updates since the last full
// recomputation.
func (h *Holder) RecalculationCount() int {
	return h.recalcCount
}

// Clear drops all windows and estimates.
func (h *Holder) Clear() {
	h.samples = make(map[string][]sample)
	h.reference = make(map[string]decimal.Decimal)
	h.recalcCount = 0
}

// removeObsolete drops samples older than the bound and backs their
// contribution out of the estimate, re-weighted by the shrinking count.
func (h *Holder) removeObsolete(instrument string, bound time.Time) {
	list := h.samples[instrument]
	initial := len(list)

	removedSum := decimal.Zero
	i := 0
	for i < len(list) && list[i].ts.Before(bound) {
		removedSum = removedSum.Add(list[i].price)
		i++
	}
	if i > 0 {
		list = append(list[:0:0], list[i:]...)
		h.samples[instrument] = list
	}

	current := len(list)
	removed := initial - current
	// Keep the previous estimate when nothing was removed or nothing
	// remains to estimate from.
	if initial == 0 || removed == 0 || current == 0 {
		return
	}

	ref := h.reference[instrument]
	if ref.IsZero() || h.recalcCount >= h.maxRecalc {
		h.fullRecalculation(instrument)
		return
	}

	initialDec := decimal.NewFromInt(int64(initial))
	withoutObsolete := ref.Sub(numutil.DivideMaxScale(removedSum, initialDec))
	coef := numutil.DivideMaxScale(decimal.NewFromInt(int64(current)), initialDec)
	h.reference[instrument] = numutil.DivideMaxScale(withoutObsolete, coef)
	h.recalcCount++

	if h.recalcCount >= h.maxRecalc {
		h.fullRecalculation(instrument)
	}
}

// fullRecalculation replaces the incremental estimate with the exact
// arithmetic mean over the retained samples and resets the drift counter.
func (h *Holder) fullRecalculation(instrument string) {
	h.recalcCount = 0

	list := h.samples[instrument]
	if len(list) == 0 {
		return
	}
	sum := decimal.Zero
	for _, s := range list {
		sum = sum.Add(s.price)
	}
	h.reference[instrument] = numutil.DivideMaxScale(sum, decimal.NewFromInt(int64(len(list))))
}
