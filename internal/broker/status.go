package broker

import (
	"strings"

	"AutoTrader/internal/model"
)

var statusTable = map[string]model.TradeStatus{
	"filled":           model.TradeFilled,
	"partially_filled": model.TradeFilled,
	"canceled":         model.TradeCancelled,
	"cancelled":        model.TradeCancelled,
	"expired":          model.TradeCancelled,
	"replaced":         model.TradeCancelled,
	"rejected":         model.TradeRejected,
	"failed":           model.TradeRejected,
}

var terminal = map[string]bool{
	"filled":    true,
	"canceled":  true,
	"cancelled": true,
	"expired":   true,
	"replaced":  true,
	"rejected":  true,
	"failed":    true,
}

// MapOrderStatus converts a broker order status to the internal taxonomy.
// Unknown or in-flight statuses map to pending.
func MapOrderStatus(status string) model.TradeStatus {
	if s, ok := statusTable[strings.ToLower(status)]; ok {
		return s
	}
	return model.TradePending
}

// IsTerminal reports whether the broker will no longer change the order.
// partially_filled is not terminal even though it maps to filled.
func IsTerminal(status string) bool {
	return terminal[strings.ToLower(status)]
}
