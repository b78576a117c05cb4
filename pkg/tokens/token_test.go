package tokens

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func n(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newFunded(t *testing.T) *Ledger {
	t.Helper()
	return New(WithInitialSupply(alice, n(100)))
}

// requireSupplyConserved checks that balances add up to the total supply.
func requireSupplyConserved(t *testing.T, l *Ledger) {
	t.Helper()
	sum := new(uint256.Int)
	for _, b := range l.Holders() {
		_, overflow := sum.AddOverflow(sum, b.Amount)
		require.False(t, overflow)
	}
	require.Equal(t, l.TotalSupply().Dec(), sum.Dec())
}

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Record(ev Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestNewCreditsInitialHolder(t *testing.T) {
	l := newFunded(t)

	assert.Equal(t, uint64(100), l.TotalSupply().Uint64())
	assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
	assert.True(t, l.BalanceOf(bob).IsZero())
	assert.Equal(t, DefaultMetadata, l.Metadata())
}

func TestNewWithoutSupply(t *testing.T) {
	l := New()

	assert.True(t, l.TotalSupply().IsZero())
	assert.Empty(t, l.Holders())

	l = New(WithInitialSupply(alice, n(0)))
	assert.True(t, l.TotalSupply().IsZero())
	assert.Empty(t, l.Holders())
}

func TestNewLastInitialSupplyWins(t *testing.T) {
	l := New(WithInitialSupply(alice, n(100)), WithInitialSupply(bob, n(50)))

	assert.Equal(t, uint64(50), l.TotalSupply().Uint64())
	assert.True(t, l.BalanceOf(alice).IsZero())
	assert.Equal(t, uint64(50), l.BalanceOf(bob).Uint64())
	requireSupplyConserved(t, l)

	l = New(WithInitialSupply(alice, n(100)), WithInitialSupply(bob, n(0)))
	assert.True(t, l.TotalSupply().IsZero())
	assert.Empty(t, l.Holders())
}

func TestZeroValueLedger(t *testing.T) {
	var l Ledger

	assert.True(t, l.TotalSupply().IsZero())
	assert.True(t, l.BalanceOf(alice).IsZero())
	require.NoError(t, l.Transfer(alice, bob, n(0)))
	require.ErrorIs(t, l.Transfer(alice, bob, n(1)), ErrInsufficientBalance)

	require.NoError(t, l.Approve(alice, bob, n(5)))
	require.NoError(t, l.IncreaseApproval(alice, bob, n(5)))
	require.NoError(t, l.DecreaseApproval(alice, bob, n(3)))
	assert.Equal(t, uint64(7), l.Allowance(alice, bob).Uint64())
	require.ErrorIs(t, l.TransferFrom(bob, alice, carol, n(1)), ErrInsufficientBalance)
	requireSupplyConserved(t, &l)
}

func TestTransfer(t *testing.T) {
	l := newFunded(t)

	require.NoError(t, l.Transfer(alice, bob, n(100)))

	assert.True(t, l.BalanceOf(alice).IsZero())
	assert.Equal(t, uint64(100), l.BalanceOf(bob).Uint64())
	requireSupplyConserved(t, l)
}

func TestTransferFailures(t *testing.T) {
	tests := []struct {
		name   string
		to     Holder
		amount uint64
		want   error
	}{
		{name: "more than balance", to: bob, amount: 101, want: ErrInsufficientBalance},
		{name: "to null holder", to: NullHolder, amount: 100, want: ErrInvalidRecipient},
		{name: "null holder and too much", to: NullHolder, amount: 1000, want: ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFunded(t)

			err := l.Transfer(alice, tt.to, n(tt.amount))
			require.ErrorIs(t, err, tt.want)

			assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
			assert.True(t, l.BalanceOf(tt.to).IsZero())
			requireSupplyConserved(t, l)
		})
	}
}

func TestTransferFromUnfundedHolder(t *testing.T) {
	l := newFunded(t)

	require.ErrorIs(t, l.Transfer(bob, carol, n(1)), ErrInsufficientBalance)
	require.NoError(t, l.Transfer(bob, carol, n(0)))
	assert.True(t, l.BalanceOf(carol).IsZero())
}

func TestTransferToSelf(t *testing.T) {
	l := newFunded(t)

	require.NoError(t, l.Transfer(alice, alice, n(60)))
	assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())

	require.ErrorIs(t, l.Transfer(alice, alice, n(101)), ErrInsufficientBalance)
	requireSupplyConserved(t, l)
}

func TestTransferOverflowLeavesStateUntouched(t *testing.T) {
	// Hand-built state that breaks the supply invariant, so the checked add
	// on the recipient side is reachable.
	l := New()
	maxAmount := new(uint256.Int).SetAllOne()
	l.balances[alice] = n(10)
	l.balances[bob] = new(uint256.Int).Set(maxAmount)

	err := l.Transfer(alice, bob, n(1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	assert.Equal(t, uint64(10), l.BalanceOf(alice).Uint64())
	assert.Equal(t, maxAmount.Dec(), l.BalanceOf(bob).Dec())
}

func TestTransferFromOverflowLeavesStateUntouched(t *testing.T) {
	l := New()
	maxAmount := new(uint256.Int).SetAllOne()
	l.balances[alice] = n(10)
	l.balances[carol] = new(uint256.Int).Set(maxAmount)
	l.allowances[alice] = map[Holder]*uint256.Int{bob: n(5)}

	err := l.TransferFrom(bob, alice, carol, n(1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	assert.Equal(t, uint64(10), l.BalanceOf(alice).Uint64())
	assert.Equal(t, maxAmount.Dec(), l.BalanceOf(carol).Dec())
	assert.Equal(t, uint64(5), l.Allowance(alice, bob).Uint64())
}

func TestApproveOverwrites(t *testing.T) {
	l := newFunded(t)

	require.NoError(t, l.Approve(alice, bob, n(100)))
	assert.Equal(t, uint64(100), l.Allowance(alice, bob).Uint64())

	require.NoError(t, l.Approve(alice, bob, n(50)))
	assert.Equal(t, uint64(50), l.Allowance(alice, bob).Uint64())

	require.NoError(t, l.Approve(alice, bob, n(0)))
	assert.True(t, l.Allowance(alice, bob).IsZero())
}

func TestApproveOnEmptyLedger(t *testing.T) {
	l := New()

	require.NoError(t, l.Approve(alice, bob, n(100)))
	assert.Equal(t, uint64(100), l.Allowance(alice, bob).Uint64())
	assert.True(t, l.Allowance(bob, alice).IsZero())
}

func TestTransferFrom(t *testing.T) {
	l := newFunded(t)
	require.NoError(t, l.Approve(alice, bob, n(100)))

	require.NoError(t, l.TransferFrom(bob, alice, carol, n(100)))

	assert.True(t, l.BalanceOf(alice).IsZero())
	assert.Equal(t, uint64(100), l.BalanceOf(carol).Uint64())
	assert.True(t, l.BalanceOf(bob).IsZero())
	assert.True(t, l.Allowance(alice, bob).IsZero())
	requireSupplyConserved(t, l)
}

func TestTransferFromPartialSpend(t *testing.T) {
	l := newFunded(t)
	require.NoError(t, l.Approve(alice, bob, n(70)))

	require.NoError(t, l.TransferFrom(bob, alice, carol, n(30)))

	assert.Equal(t, uint64(40), l.Allowance(alice, bob).Uint64())
	assert.Equal(t, uint64(70), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(30), l.BalanceOf(carol).Uint64())
}

func TestTransferFromFailures(t *testing.T) {
	tests := []struct {
		name      string
		allowance uint64
		to        Holder
		amount    uint64
		want      error
	}{
		{name: "allowance short", allowance: 99, to: carol, amount: 100, want: ErrInsufficientAllowance},
		{name: "no allowance", allowance: 0, to: carol, amount: 1, want: ErrInsufficientAllowance},
		{name: "balance short", allowance: 500, to: carol, amount: 101, want: ErrInsufficientBalance},
		{name: "to null holder", allowance: 100, to: NullHolder, amount: 100, want: ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFunded(t)
			require.NoError(t, l.Approve(alice, bob, n(tt.allowance)))

			err := l.TransferFrom(bob, alice, tt.to, n(tt.amount))
			require.ErrorIs(t, err, tt.want)

			assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
			assert.True(t, l.BalanceOf(tt.to).IsZero())
			assert.Equal(t, tt.allowance, l.Allowance(alice, bob).Uint64())
			requireSupplyConserved(t, l)
		})
	}
}

func TestTransferFromBothShortFailsWithoutMutation(t *testing.T) {
	l := newFunded(t)
	require.NoError(t, l.Approve(alice, bob, n(10)))

	err := l.TransferFrom(bob, alice, carol, n(200))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientAllowance) || errors.Is(err, ErrInsufficientBalance))

	assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(10), l.Allowance(alice, bob).Uint64())
}

func TestIncreaseThenDecreaseApproval(t *testing.T) {
	l := newFunded(t)
	require.True(t, l.Allowance(alice, bob).IsZero())

	require.NoError(t, l.IncreaseApproval(alice, bob, n(50)))
	assert.Equal(t, uint64(50), l.Allowance(alice, bob).Uint64())

	require.NoError(t, l.DecreaseApproval(alice, bob, n(10)))
	assert.Equal(t, uint64(40), l.Allowance(alice, bob).Uint64())
}

func TestDecreaseApprovalClamps(t *testing.T) {
	for _, delta := range []uint64{10, 15} {
		l := newFunded(t)
		require.NoError(t, l.Approve(alice, bob, n(10)))

		require.NoError(t, l.DecreaseApproval(alice, bob, n(delta)))
		assert.True(t, l.Allowance(alice, bob).IsZero(), "delta %d", delta)
	}

	l := New()
	require.NoError(t, l.DecreaseApproval(alice, bob, n(5)))
	assert.True(t, l.Allowance(alice, bob).IsZero())
}

func TestIncreaseApprovalOverflow(t *testing.T) {
	l := newFunded(t)
	maxAmount := new(uint256.Int).SetAllOne()
	require.NoError(t, l.Approve(alice, bob, maxAmount))

	err := l.IncreaseApproval(alice, bob, n(1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, maxAmount.Dec(), l.Allowance(alice, bob).Dec())

	require.NoError(t, l.IncreaseApproval(alice, bob, n(0)))
}

func TestGettersReturnCopies(t *testing.T) {
	l := newFunded(t)
	require.NoError(t, l.Approve(alice, bob, n(5)))

	l.BalanceOf(alice).SetUint64(1)
	l.Allowance(alice, bob).SetUint64(1)
	l.TotalSupply().SetUint64(1)

	amount := n(10)
	require.NoError(t, l.Transfer(alice, bob, amount))
	amount.SetUint64(99)

	assert.Equal(t, uint64(90), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(10), l.BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(5), l.Allowance(alice, bob).Uint64())
	assert.Equal(t, uint64(100), l.TotalSupply().Uint64())
}

func TestHoldersSortedAndNonZero(t *testing.T) {
	l := newFunded(t)
	require.NoError(t, l.Transfer(alice, carol, n(30)))
	require.NoError(t, l.Transfer(alice, bob, n(70)))

	holders := l.Holders()
	require.Len(t, holders, 2)
	assert.Equal(t, bob, holders[0].Holder)
	assert.Equal(t, carol, holders[1].Holder)
	requireSupplyConserved(t, l)
}

func TestFormat(t *testing.T) {
	l := New(WithMetadata(Metadata{Name: "Lumen", Symbol: "LMN", Decimals: 2}))

	assert.Equal(t, "1.5", l.Format(n(150)))
	assert.Equal(t, "0", l.Format(nil))
	assert.Equal(t, "0.07", l.Format(n(7)))
}

func TestEventsFollowMutations(t *testing.T) {
	sink := &recordingSink{}
	l := New(WithInitialSupply(alice, n(100)), WithEventSink(sink))

	require.NoError(t, l.Transfer(alice, bob, n(10)))
	require.NoError(t, l.Approve(alice, bob, n(20)))
	require.NoError(t, l.TransferFrom(bob, alice, carol, n(5)))
	require.NoError(t, l.IncreaseApproval(alice, bob, n(5)))
	require.NoError(t, l.DecreaseApproval(alice, bob, n(100)))
	require.Error(t, l.Transfer(alice, NullHolder, n(1)))
	require.Error(t, l.Transfer(carol, bob, n(50)))

	require.Len(t, sink.events, 5)
	assert.Equal(t, Event{Kind: EventTransfer, From: alice, To: bob, Amount: n(10)}, sink.events[0])
	assert.Equal(t, Event{Kind: EventApproval, From: alice, To: bob, Amount: n(20)}, sink.events[1])
	assert.Equal(t, Event{Kind: EventTransfer, From: alice, To: carol, Amount: n(5)}, sink.events[2])
	assert.Equal(t, Event{Kind: EventApproval, From: alice, To: bob, Amount: n(20)}, sink.events[3])
	assert.Equal(t, Event{Kind: EventApproval, From: alice, To: bob, Amount: n(0)}, sink.events[4])
}

func TestSinkFailureKeepsMutation(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	l := New(WithInitialSupply(alice, n(100)), WithEventSink(sink))

	require.NoError(t, l.Transfer(alice, bob, n(10)))
	assert.Equal(t, uint64(10), l.BalanceOf(bob).Uint64())
	assert.Len(t, sink.events, 1)
}

func TestLedgersAreIsolated(t *testing.T) {
	a := newFunded(t)
	b := newFunded(t)

	require.NoError(t, a.Transfer(alice, bob, n(100)))

	assert.Equal(t, uint64(100), b.BalanceOf(alice).Uint64())
	assert.True(t, b.BalanceOf(bob).IsZero())
}

func TestConcurrentTransfersConserveSupply(t *testing.T) {
	l := New(WithInitialSupply(alice, n(1000)))
	require.NoError(t, l.Approve(alice, carol, n(500)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = l.Transfer(alice, bob, n(7))
		}()
		go func() {
			defer wg.Done()
			_ = l.TransferFrom(carol, alice, carol, n(11))
		}()
		go func() {
			defer wg.Done()
			_ = l.Transfer(bob, alice, n(3))
		}()
	}
	wg.Wait()

	requireSupplyConserved(t, l)
	spent := l.BalanceOf(carol).Uint64()
	assert.Equal(t, uint64(500)-spent, l.Allowance(alice, carol).Uint64())
}
