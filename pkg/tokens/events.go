package tokens

import (
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// EventKind tells Transfer and Approval events apart.
type EventKind string

const (
	EventTransfer EventKind = "transfer"
	EventApproval EventKind = "approval"
)

// Event is emitted after every successful mutation. For approvals From is
// the owner, To the spender and Amount the resulting allowance.
type Event struct {
	Kind   EventKind
	From   Holder
	To     Holder
	Amount *uint256.Int
}

// EventSink receives events in the order the ledger applied them.
type EventSink interface {
	Record(Event) error
}

// emit is called with the write lock held so sinks observe mutation order.
// A failing sink does not undo the mutation.
func (l *Ledger) emit(ev Event) {
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.logger.Debug("ledger mutation",
		zap.String("kind", string(ev.Kind)),
		zap.Stringer("from", ev.From),
		zap.Stringer("to", ev.To),
		zap.String("amount", ev.Amount.Dec()),
	)
	if l.sink == nil {
		return
	}
	if err := l.sink.Record(ev); err != nil {
		l.logger.Error("event sink failed",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}
