// Package engine turns price history into scored market events: dumps,
// spikes, and flip candidates.
package engine

import (
	"github.com/getools/gesniper/internal/domain"
)

// windowsPerDay is the number of five-minute windows in a day; the expected
// per-window volume divides the observed average by it.
const windowsPerDay = 288

// ScoreBreakdown carries the dump score and the component percentages it was
// built from.
type ScoreBreakdown struct {
	DropPct       float64
	VolSpikePct   float64
	OversupplyPct float64
	BuySpeedPct   float64
	Score         float64
}

// dumpScore blends four signals into a 0-100 score: price drop (up to 40),
// volume spike against the expected per-window volume (up to 30), oversupply
// against the buy limit (up to 20), and buy speed (up to 10).
func dumpScore(prevLow, curLow int64, curVol int64, avgVol float64, buyLimit int) ScoreBreakdown {
	var b ScoreBreakdown
	if prevLow <= 0 || curLow >= prevLow || buyLimit <= 0 {
		return b
	}

	b.DropPct = (float64(prevLow-curLow) / float64(prevLow)) * 100
	dropScore := minf(b.DropPct*2, 40)

	expected := avgVol / windowsPerDay
	b.VolSpikePct = maxf(0, (float64(curVol)-expected)/maxf(expected, 1)*100)
	volScore := minf(b.VolSpikePct*0.3, 30)

	b.OversupplyPct = float64(curVol) / maxf(float64(buyLimit), 1) * 100
	overScore := minf(b.OversupplyPct*0.2, 20)

	b.BuySpeedPct = b.OversupplyPct
	speedScore := minf(b.BuySpeedPct*0.1, 10)

	b.Score = clampf(dropScore+volScore+overScore+speedScore, 0, 100)
	return b
}

// dumpFlags derives the boolean markers for a scored dump.
func dumpFlags(b ScoreBreakdown, curLow int64) domain.Flags {
	var flags domain.Flags
	if b.BuySpeedPct < 50 {
		flags = append(flags, domain.FlagSlowBuy)
	}
	if curLow == 1 {
		flags = append(flags, domain.FlagOneGPDump)
	}
	if b.Score >= 51 {
		flags = append(flags, domain.FlagSuper)
	}
	return flags
}

// Quality labels, best first.
const (
	QualityNuclear = "NUCLEAR DUMP"
	QualityGodTier = "GOD-TIER"
	QualityElite   = "ELITE"
	QualityPremium = "PREMIUM"
	QualityGood    = "GOOD"
	QualityDeal    = "DEAL"
)

// dumpQuality labels exceptional dumps. Anything moving more than 1.5M units
// in a window is nuclear outright; otherwise the label follows a composite of
// drop size, volume, and price level. Ordinary dumps get no label.
func dumpQuality(dropPct float64, volume, low int64) string {
	if volume > 1_500_000 {
		return QualityNuclear
	}
	q := (dropPct / 10) * (float64(volume) / 1000) * (float64(low) / 1_000_000)
	switch {
	case q >= 100:
		return QualityGodTier
	case q >= 40:
		return QualityElite
	case q >= 15:
		return QualityPremium
	case q >= 5:
		return QualityGood
	case q >= 1:
		return QualityDeal
	}
	return ""
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
