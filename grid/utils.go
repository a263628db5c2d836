package grid

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/xyths/gridfleet/exchange"
	"sort"
	"strings"
)

const (
	prefixBuy      = "b"
	prefixSell     = "s"
	prefixStopLoss = "sl"
)

// getClientOrderId builds an order_link_id; the exchange caps it at 36 chars.
func getClientOrderId(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func sidePrefix(side exchange.Side) string {
	if side == exchange.Buy {
		return prefixBuy
	}
	return prefixSell
}

// sortedKeys returns level keys in ascending price order.
func sortedKeys(orders map[string]*Order) []string {
	keys := make([]string, 0, len(orders))
	for k := range orders {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return orders[keys[i]].Level.LessThan(orders[keys[j]].Level)
	})
	return keys
}
