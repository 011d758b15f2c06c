package engine

import (
	"github.com/getools/gesniper/internal/domain"
)

// riskMetrics estimates how dangerous it is to act on an item at the given
// buy/sell prices. Higher risk score means worse.
func riskMetrics(buy, sell, volume int64, buyLimit int) domain.RiskMetrics {
	limit := maxf(float64(buyLimit), 1)

	liquidity := minf(float64(volume)/limit/10*100, 100)

	var spreadPct float64
	if buy > 0 && sell > buy {
		spreadPct = float64(sell-buy) / float64(buy) * 100
	}
	spreadRisk := minf(spreadPct*10, 100)

	velocity := minf(float64(volume)/1000*10, 100)

	risk := (100-liquidity)*0.3 + spreadRisk*0.4 + (100-velocity)*0.3

	canBuyFull := minf(float64(volume)/limit, 1)
	priceConfidence := minf(float64(volume)/1000, 1)

	return domain.RiskMetrics{
		RiskScore:               risk,
		RiskLevel:               riskLevel(risk),
		LiquidityScore:          liquidity,
		SpreadRisk:              spreadRisk,
		VolumeVelocity:          velocity,
		ProfitabilityConfidence: (canBuyFull*0.6 + priceConfidence*0.4) * 100,
	}
}

func riskLevel(score float64) string {
	switch {
	case score < 20:
		return domain.RiskLow
	case score < 40:
		return domain.RiskMedium
	case score < 60:
		return domain.RiskHigh
	}
	return domain.RiskVeryHigh
}

// The exchange takes a 1% cut of every sale, capped at 5M gp.
const (
	taxRate   = 100
	taxCapGP  = 5_000_000
)

// GETax returns the exchange tax on a sale at the given price.
func GETax(sell int64) int64 {
	if sell <= 0 {
		return 0
	}
	tax := sell / taxRate
	if tax > taxCapGP {
		return taxCapGP
	}
	return tax
}
