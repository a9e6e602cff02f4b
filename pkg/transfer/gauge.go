package transfer

import (
	"sync"

	"transfer-ledger/pkg/metrics"

	"github.com/shopspring/decimal"
)

// balanceGauge forwards balance snapshots to a collector, dropping any snapshot
// older than the last one applied to the same account. Transfers finish their
// emission in any order, so the gauge must not trust arrival order.
type balanceGauge struct {
	mu       sync.Mutex
	versions map[string]int64
}

func newBalanceGauge() *balanceGauge {
	return &balanceGauge{versions: make(map[string]int64)}
}

// set records balance at version and reports whether it was applied.
// Version 0 is the startup snapshot; it only fills accounts never seen.
func (g *balanceGauge) set(c metrics.Collector, account string, balance decimal.Decimal, version int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.versions[account]; ok && last >= version {
		return false
	}
	g.versions[account] = version
	c.RecordBalance(account, balance.InexactFloat64())
	return true
}
