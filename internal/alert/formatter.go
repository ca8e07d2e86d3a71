// Package alert implements the Alert Formatter, the Dispatcher with
// per-channel circuit breakers, the Discord webhook and Telegram bot-API
// channel adapters, and Redis-sorted-set-backed alert history.
package alert

import (
	"fmt"
	"strings"

	"insider-tracker/pkg/types"
)

// riskLevel classifies a weighted score into the formatter's HIGH/MEDIUM/LOW
// bands and their embed colors.
type riskLevel struct {
	label string
	color int
}

func classify(score float64) riskLevel {
	switch {
	case score >= 0.7:
		return riskLevel{"HIGH", 0xE74C3C} // red
	case score >= 0.5:
		return riskLevel{"MEDIUM", 0xE67E22} // orange
	default:
		return riskLevel{"LOW", 0xF1C40F} // yellow
	}
}

// Verbosity controls whether per-signal confidence rows are included.
type Verbosity int

const (
	Compact Verbosity = iota
	Detailed
)

// Formatter renders a RiskAssessment into the three channel-agnostic
// representations: rich embed, escaped markdown, and plain text.
type Formatter struct {
	Verbosity Verbosity
}

// NewFormatter constructs a Formatter at the given verbosity.
func NewFormatter(v Verbosity) *Formatter { return &Formatter{Verbosity: v} }

// Format produces a FormattedAlert from an assessment. market may be nil
// (falls back to the market ID as its own title).
func (f *Formatter) Format(assessment types.RiskAssessment, market *types.MarketMetadata) types.FormattedAlert {
	level := classify(assessment.WeightedScore)
	marketTitle := assessment.Trade.MarketID
	if market != nil && market.Question != "" {
		marketTitle = market.Question
	}

	return types.FormattedAlert{
		Assessment: assessment,
		RichEmbed:  f.buildEmbed(assessment, level, marketTitle),
		Markdown:   f.buildMarkdown(assessment, level, marketTitle),
		PlainText:  f.buildPlainText(assessment, level, marketTitle),
		Links:      map[string]string{"market": marketLink(assessment.Trade.MarketID)},
	}
}

func marketLink(marketID string) string {
	return fmt.Sprintf("https://polymarket.com/event/%s", marketID)
}

func truncateWallet(addr string) string {
	if len(addr) <= 11 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func (f *Formatter) buildEmbed(a types.RiskAssessment, level riskLevel, marketTitle string) types.AlertEmbed {
	trade := a.Trade
	wallet := truncateWallet(trade.WalletAddress)
	if a.FreshWallet != nil && a.FreshWallet.Profile.AgeHours != nil {
		wallet = fmt.Sprintf("%s (age %.1fh)", wallet, *a.FreshWallet.Profile.AgeHours)
	}

	fields := []types.AlertEmbedField{
		{Name: "Wallet", Value: wallet, Inline: true},
		{Name: "Risk Score", Value: fmt.Sprintf("%.2f", a.WeightedScore), Inline: true},
		{Name: "Market", Value: fmt.Sprintf("[%s](%s)", marketTitle, marketLink(trade.MarketID)), Inline: false},
		{Name: "Trade", Value: tradeLine(trade), Inline: false},
		{Name: "Signals", Value: signalsLine(a), Inline: false},
	}

	if f.Verbosity == Detailed {
		fields = append(fields, signalConfidenceFields(a)...)
	}

	return types.AlertEmbed{
		Title:       fmt.Sprintf("%s RISK — Suspicious Activity Detected", level.label),
		Description: fmt.Sprintf("Weighted score %.2f across %d signal(s)", a.WeightedScore, a.SignalsTriggered),
		Color:       level.color,
		Fields:      fields,
	}
}

func tradeLine(t types.TradeEvent) string {
	return fmt.Sprintf("%s %s @ %s (size %s, notional $%s)",
		t.Side, t.Outcome, t.Price.String(), t.Size.String(), t.Notional().StringFixed(2))
}

func signalsLine(a types.RiskAssessment) string {
	kinds := a.SignalKinds()
	if len(kinds) == 0 {
		return "none"
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func signalConfidenceFields(a types.RiskAssessment) []types.AlertEmbedField {
	var fields []types.AlertEmbedField
	if a.FreshWallet != nil {
		fields = append(fields, types.AlertEmbedField{
			Name: "fresh_wallet confidence", Value: fmt.Sprintf("%.2f", a.FreshWallet.Confidence), Inline: true,
		})
	}
	if a.SizeAnomaly != nil {
		fields = append(fields, types.AlertEmbedField{
			Name: "size_anomaly confidence", Value: fmt.Sprintf("%.2f", a.SizeAnomaly.Confidence), Inline: true,
		})
	}
	if a.SniperCluster != nil {
		fields = append(fields, types.AlertEmbedField{
			Name: "sniper_cluster confidence", Value: fmt.Sprintf("%.2f", a.SniperCluster.Confidence), Inline: true,
		})
	}
	return fields
}

func (f *Formatter) buildPlainText(a types.RiskAssessment, level riskLevel, marketTitle string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s RISK] score=%.2f wallet=%s market=%s\n", level.label, a.WeightedScore, truncateWallet(a.Trade.WalletAddress), marketTitle)
	fmt.Fprintf(&b, "%s\n", tradeLine(a.Trade))
	fmt.Fprintf(&b, "signals: %s\n", signalsLine(a))
	if f.Verbosity == Detailed {
		for _, kind := range a.SignalKinds() {
			fmt.Fprintf(&b, "  %s confidence: %.2f\n", kind, confidenceOf(a, kind))
		}
	}
	return b.String()
}

func (f *Formatter) buildMarkdown(a types.RiskAssessment, level riskLevel, marketTitle string) string {
	return escapeMarkdownV2(f.buildPlainText(a, level, marketTitle))
}

func confidenceOf(a types.RiskAssessment, kind types.SignalKind) float64 {
	switch kind {
	case types.SignalFreshWallet:
		if a.FreshWallet != nil {
			return a.FreshWallet.Confidence
		}
	case types.SignalSizeAnomaly:
		if a.SizeAnomaly != nil {
			return a.SizeAnomaly.Confidence
		}
	case types.SignalSniperCluster:
		if a.SniperCluster != nil {
			return a.SniperCluster.Confidence
		}
	}
	return 0
}

// markdownV2Escapes are the characters Telegram's MarkdownV2 requires
// backslash-escaped, plus the dollar sign.
const markdownV2Escapes = "_*[]()~`>#+-=|{}.!$"

func escapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownV2Escapes, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
