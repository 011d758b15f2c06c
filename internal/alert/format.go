package alert

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/getools/gesniper/internal/domain"
	"github.com/getools/gesniper/internal/egress"
)

// Embed colors per event kind.
const (
	colorDump  = 0xE74C3C
	colorSpike = 0x2ECC71
	colorFlip  = 0xF1C40F
)

// iconURL points at the wiki image for an item.
func iconURL(name string) string {
	if name == "" {
		return ""
	}
	return "https://oldschool.runescape.wiki/images/" +
		url.PathEscape(strings.ReplaceAll(name, " ", "_")) + ".png"
}

// fmtGP renders a gp amount with thousand separators.
func fmtGP(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	out := b.String() + " gp"
	if neg {
		return "-" + out
	}
	return out
}

func dumpPayload(d domain.DumpEvent) egress.Payload {
	title := fmt.Sprintf("%s %s dump: %s", d.TierEmoji, strings.ToUpper(d.Tier), d.Name)
	if d.Quality != "" {
		title = d.Quality + " | " + title
	}

	fields := []egress.Field{
		{Name: "Buy", Value: fmtGP(d.Low), Inline: true},
		{Name: "Was", Value: fmtGP(d.PrevLow), Inline: true},
		{Name: "Drop", Value: fmt.Sprintf("%.1f%%", d.DropPct), Inline: true},
		{Name: "Score", Value: fmt.Sprintf("%.0f/100", d.Score), Inline: true},
		{Name: "Volume (5m)", Value: fmt.Sprintf("%d", d.Volume), Inline: true},
		{Name: "Risk", Value: d.Risk.RiskLevel, Inline: true},
	}
	if len(d.Flags) > 0 {
		fields = append(fields, egress.Field{Name: "Flags", Value: strings.Join(d.Flags, ", ")})
	}

	return egress.Payload{
		Title: title,
		Description: fmt.Sprintf("Sell-side crashed from %s to %s. Margin to instant-buy: %s.",
			fmtGP(d.PrevLow), fmtGP(d.Low), fmtGP(d.MarginGP)),
		Color:        colorDump,
		Fields:       fields,
		ThumbnailURL: iconURL(d.Name),
	}
}

func spikePayload(s domain.SpikeEvent) egress.Payload {
	return egress.Payload{
		Title: fmt.Sprintf("📈 Spike: %s", s.Name),
		Description: fmt.Sprintf("Instant-buy climbed from %s to %s (+%.1f%%).",
			fmtGP(s.PrevHigh), fmtGP(s.High), s.RisePct),
		Color: colorSpike,
		Fields: []egress.Field{
			{Name: "Sell", Value: fmtGP(s.High), Inline: true},
			{Name: "Was", Value: fmtGP(s.PrevHigh), Inline: true},
			{Name: "Volume (5m)", Value: fmt.Sprintf("%d", s.Volume), Inline: true},
		},
		ThumbnailURL: iconURL(s.Name),
	}
}

func flipPayload(f domain.FlipCandidate) egress.Payload {
	return egress.Payload{
		Title: fmt.Sprintf("💰 Flip: %s", f.Name),
		Description: fmt.Sprintf("Buy at %s, sell at %s. Profit after tax: %s (%.1f%% ROI).",
			fmtGP(f.Buy), fmtGP(f.Sell), fmtGP(f.Profit), f.ROIPct),
		Color: colorFlip,
		Fields: []egress.Field{
			{Name: "Margin", Value: fmtGP(f.MarginGP), Inline: true},
			{Name: "Tax", Value: fmtGP(f.Tax), Inline: true},
			{Name: "Buy limit", Value: fmt.Sprintf("%d", f.BuyLimit), Inline: true},
			{Name: "Risk", Value: f.Risk.RiskLevel, Inline: true},
		},
		ThumbnailURL: iconURL(f.Name),
	}
}
