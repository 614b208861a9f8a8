package notifier

import (
	"fmt"
	"strings"

	"AutoTrader/internal/model"
	"AutoTrader/internal/reconciler"
	"AutoTrader/internal/risk"
	"AutoTrader/internal/trading"
)

func signalIcon(s model.SignalType) string {
	switch s {
	case model.SignalBuy:
		return "🟢"
	case model.SignalSell:
		return "🔴"
	default:
		return "⚪"
	}
}

// FormatCycle renders one decision cycle result.
func FormatCycle(res trading.Result) string {
	var b strings.Builder

	if res.Error != "" {
		b.WriteString(fmt.Sprintf("❌ <b>%s</b> cycle failed\n\n%s\n", res.Symbol, res.Error))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("%s <b>%s</b> | %s\n\n", signalIcon(res.Signal), res.Symbol, orDash(string(res.Signal))))
	if res.Price > 0 {
		b.WriteString(fmt.Sprintf("Price: %.2f\n", res.Price))
	}
	if ind := res.Indicators; ind != nil {
		b.WriteString(fmt.Sprintf("RSI: %.1f | MACD: %.3f / %.3f (hist %+.3f)\n", ind.RSI, ind.MACD, ind.MACDSignal, ind.MACDHistogram))
	}
	if g := res.Growth; g != nil && g.Defined {
		b.WriteString(fmt.Sprintf("Growth progress: %.1f%%\n", g.Progress))
	}

	if t := res.Trade; t != nil {
		b.WriteString("\n")
		switch t.Status {
		case model.TradeBlocked, model.TradeRejected:
			b.WriteString(fmt.Sprintf("⛔ %s %s: %s\n", strings.ToUpper(string(t.Side)), t.Status, t.RejectionReason))
		default:
			b.WriteString(fmt.Sprintf("✅ %s %d @ %.2f (%s)\n", strings.ToUpper(string(t.Side)), t.Quantity, t.Price, t.Status))
			if t.OrderID != "" {
				b.WriteString(fmt.Sprintf("Order: <code>%s</code>\n", t.OrderID))
			}
			if t.ProfitLoss != nil {
				b.WriteString(fmt.Sprintf("P/L: %+.2f", *t.ProfitLoss))
				if t.ProfitLossPercent != nil {
					b.WriteString(fmt.Sprintf(" (%+.2f%%)", *t.ProfitLossPercent))
				}
				b.WriteString("\n")
			}
		}
	}
	if res.Message != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", res.Message))
	}
	if res.ExecuteError != "" {
		b.WriteString(fmt.Sprintf("⚠️ %s\n", res.ExecuteError))
	}
	if res.NextOpen != nil {
		b.WriteString(fmt.Sprintf("Next open: %s\n", res.NextOpen.Format("2006-01-02 15:04 MST")))
	}
	return b.String()
}

// FormatGrowth renders progress toward the growth target.
func FormatGrowth(g risk.Growth) string {
	var b strings.Builder
	b.WriteString("📈 <b>Growth</b>\n\n")
	if !g.Defined {
		b.WriteString("No baseline snapshot yet.\n")
		b.WriteString(fmt.Sprintf("Current value: %.2f\n", g.CurrentValue))
		return b.String()
	}
	b.WriteString(fmt.Sprintf("Baseline: %.2f (%s)\n", g.InitialValue, g.Since.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Current: %.2f\n", g.CurrentValue))
	b.WriteString(fmt.Sprintf("Growth: %.3fx, required %.3fx after %d days\n", g.CurrentGrowth, g.RequiredGrowth, g.DaysElapsed))
	b.WriteString(fmt.Sprintf("Target: %.1fx in %d days\n", g.TargetMultiplier, g.TargetDays))
	b.WriteString(fmt.Sprintf("Progress: %.1f%%\n", g.Progress))
	return b.String()
}

// FormatReconcile renders a reconciliation report.
func FormatReconcile(rep reconciler.Report) string {
	return fmt.Sprintf("🔄 <b>Pending trades</b>\n\nChecked: %d\nUpdated: %d\nFailed: %d\n", rep.Checked, rep.Updated, rep.Failed)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
