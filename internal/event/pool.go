package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// walletChangedPool recycles the highest-frequency event to reduce GC
// pressure on the dispatch hotpath.
//
// Usage:
//
//	ev := AcquireWalletChangedEvent()
//	ev.ClientID = "c1"
//	// ... submit to the outbound worker, which releases it ...
var walletChangedPool = sync.Pool{
	New: func() interface{} {
		return &WalletChangedEvent{}
	},
}

// AcquireWalletChangedEvent gets a WalletChangedEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireWalletChangedEvent() *WalletChangedEvent {
	return walletChangedPool.Get().(*WalletChangedEvent)
}

// ReleaseWalletChangedEvent returns a WalletChangedEvent to the pool.
func ReleaseWalletChangedEvent(ev *WalletChangedEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = time.Time{}
	ev.ClientID = ""
	ev.AssetID = ""
	ev.Amount = decimal.Decimal{}
	ev.Balance = decimal.Decimal{}
	ev.RecordID = ""

	walletChangedPool.Put(ev)
}
