package tokens

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Holder identifies an account on the ledger.
type Holder = common.Address

// NullHolder is the reserved zero address. It can never receive tokens.
var NullHolder = Holder{}

// Metadata describes the token held by a ledger.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// DefaultMetadata is used when no WithMetadata option is given.
var DefaultMetadata = Metadata{Name: "Lumen", Symbol: "LMN", Decimals: 18}

// Balance is one entry of a Holders snapshot.
type Balance struct {
	Holder Holder
	Amount *uint256.Int
}

// Ledger tracks balances and allowances for a single token. The zero value
// is an empty ledger with no supply and no metadata; use New to configure one.
type Ledger struct {
	mu          sync.RWMutex
	meta        Metadata
	totalSupply *uint256.Int
	balances    map[Holder]*uint256.Int
	allowances  map[Holder]map[Holder]*uint256.Int

	// genesis is applied once by New.
	genesisHolder Holder
	genesisSupply *uint256.Int

	sink   EventSink
	logger *zap.Logger
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithInitialSupply credits holder with the whole supply. Only the last
// WithInitialSupply given to New takes effect.
func WithInitialSupply(holder Holder, supply *uint256.Int) Option {
	return func(l *Ledger) {
		l.genesisHolder = holder
		l.genesisSupply = new(uint256.Int).Set(orZero(supply))
	}
}

// WithMetadata sets the token name, symbol and decimals.
func WithMetadata(meta Metadata) Option {
	return func(l *Ledger) { l.meta = meta }
}

// WithLogger sets the logger used for mutations and sink failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEventSink registers a sink receiving every Transfer and Approval event.
func WithEventSink(sink EventSink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// New creates a ledger. Without WithInitialSupply the total supply is zero.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		meta:        DefaultMetadata,
		totalSupply: new(uint256.Int),
		balances:    make(map[Holder]*uint256.Int),
		allowances:  make(map[Holder]map[Holder]*uint256.Int),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.genesisSupply != nil && !l.genesisSupply.IsZero() {
		l.totalSupply.Set(l.genesisSupply)
		l.balances[l.genesisHolder] = new(uint256.Int).Set(l.genesisSupply)
	}
	l.genesisSupply = nil
	return l
}

// Metadata returns the token description.
func (l *Ledger) Metadata() Metadata {
	return l.meta
}

// TotalSupply returns the supply fixed at construction.
func (l *Ledger) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(orZero(l.totalSupply))
}

// BalanceOf returns the balance of holder, zero if it was never credited.
func (l *Ledger) BalanceOf(holder Holder) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.balanceOf(holder))
}

// Allowance returns how much spender may still move out of owner's balance.
func (l *Ledger) Allowance(owner, spender Holder) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.allowance(owner, spender))
}

// Holders returns every non-zero balance ordered by holder address.
func (l *Ledger) Holders() []Balance {
	l.mu.RLock()
	out := make([]Balance, 0, len(l.balances))
	for h, amount := range l.balances {
		out = append(out, Balance{Holder: h, Amount: new(uint256.Int).Set(amount)})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Holder[:], out[j].Holder[:]) < 0
	})
	return out
}

// Format renders a base-unit amount using the token decimals, e.g. "1.5".
func (l *Ledger) Format(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(l.meta.Decimals)).String()
}

// Transfer moves amount from caller to to.
func (l *Ledger) Transfer(caller, to Holder, amount *uint256.Int) error {
	amount = orZero(amount)
	if err := validRecipient(to); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.move(caller, to, amount); err != nil {
		return err
	}

	l.emit(Event{Kind: EventTransfer, From: caller, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// TransferFrom moves amount from owner to to, spending the allowance owner
// granted to caller.
func (l *Ledger) TransferFrom(caller, owner, to Holder, amount *uint256.Int) error {
	amount = orZero(amount)
	if err := validRecipient(to); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(owner, caller)
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: allowance %s, amount %s", ErrInsufficientAllowance, allowed.Dec(), amount.Dec())
	}
	remaining := new(uint256.Int).Sub(allowed, amount)

	if err := l.move(owner, to, amount); err != nil {
		return err
	}
	l.setAllowance(owner, caller, remaining)

	l.emit(Event{Kind: EventTransfer, From: owner, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Approve sets the allowance of spender over caller's balance to amount,
// replacing any previous value.
func (l *Ledger) Approve(caller, spender Holder, amount *uint256.Int) error {
	amount = orZero(amount)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setAllowance(caller, spender, new(uint256.Int).Set(amount))
	l.emit(Event{Kind: EventApproval, From: caller, To: spender, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// IncreaseApproval adds delta to the allowance of spender over caller's balance.
func (l *Ledger) IncreaseApproval(caller, spender Holder, delta *uint256.Int) error {
	delta = orZero(delta)
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.allowance(caller, spender)
	next, overflow := new(uint256.Int).AddOverflow(current, delta)
	if overflow {
		return fmt.Errorf("%w: allowance %s + %s", ErrArithmeticOverflow, current.Dec(), delta.Dec())
	}

	l.setAllowance(caller, spender, next)
	l.emit(Event{Kind: EventApproval, From: caller, To: spender, Amount: new(uint256.Int).Set(next)})
	return nil
}

// DecreaseApproval subtracts delta from the allowance of spender over
// caller's balance. A delta at or above the allowance leaves it at zero.
func (l *Ledger) DecreaseApproval(caller, spender Holder, delta *uint256.Int) error {
	delta = orZero(delta)
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.allowance(caller, spender)
	next := new(uint256.Int)
	if delta.Lt(current) {
		next.Sub(current, delta)
	}

	l.setAllowance(caller, spender, next)
	l.emit(Event{Kind: EventApproval, From: caller, To: spender, Amount: new(uint256.Int).Set(next)})
	return nil
}

// validRecipient is the single place the null holder is rejected.
func validRecipient(to Holder) error {
	if to == NullHolder {
		return ErrInvalidRecipient
	}
	return nil
}

// move debits from and credits to. Nothing is written unless both sides
// succeed. Caller must hold the write lock.
func (l *Ledger) move(from, to Holder, amount *uint256.Int) error {
	fromBalance := l.balanceOf(from)
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: balance %s, amount %s", ErrInsufficientBalance, fromBalance.Dec(), amount.Dec())
	}
	debited := new(uint256.Int).Sub(fromBalance, amount)

	toBalance := l.balanceOf(to)
	if to == from {
		toBalance = debited
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
	if overflow {
		return fmt.Errorf("%w: balance %s + %s", ErrArithmeticOverflow, toBalance.Dec(), amount.Dec())
	}

	l.setBalance(from, debited)
	l.setBalance(to, credited)
	return nil
}

// orZero treats a nil amount as zero.
func orZero(amount *uint256.Int) *uint256.Int {
	if amount == nil {
		return new(uint256.Int)
	}
	return amount
}

func (l *Ledger) balanceOf(holder Holder) *uint256.Int {
	if b, ok := l.balances[holder]; ok {
		return b
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalance(holder Holder, amount *uint256.Int) {
	if amount.IsZero() {
		delete(l.balances, holder)
		return
	}
	if l.balances == nil {
		l.balances = make(map[Holder]*uint256.Int)
	}
	l.balances[holder] = amount
}

func (l *Ledger) allowance(owner, spender Holder) *uint256.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

func (l *Ledger) setAllowance(owner, spender Holder, amount *uint256.Int) {
	if amount.IsZero() {
		if byOwner, ok := l.allowances[owner]; ok {
			delete(byOwner, spender)
			if len(byOwner) == 0 {
				delete(l.allowances, owner)
			}
		}
		return
	}
	if l.allowances == nil {
		l.allowances = make(map[Holder]map[Holder]*uint256.Int)
	}
	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[Holder]*uint256.Int)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = amount
}
