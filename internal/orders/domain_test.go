package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatePending, StateApproved))
	require.True(t, CanTransition(StatePending, StateRejected))
	require.True(t, CanTransition(StateApproved, StateFinalized))

	require.False(t, CanTransition(StatePending, StateFinalized))
	require.False(t, CanTransition(StateApproved, StateRejected))
	require.False(t, CanTransition(StateRejected, StateApproved))
	require.False(t, CanTransition(StateFinalized, StatePending))
	require.False(t, CanTransition(StateApproved, StateApproved))
}

func TestEditable(t *testing.T) {
	require.True(t, Editable(StatePending))
	require.True(t, Editable(StateApproved))
	require.True(t, Editable(StateRejected))
	require.False(t, Editable(StateFinalized))
}

func TestValidPaymentTerms(t *testing.T) {
	require.True(t, ValidPaymentTerms(PaymentCash))
	require.True(t, ValidPaymentTerms(PaymentNet90))
	require.False(t, ValidPaymentTerms("NET_45"))
	require.False(t, ValidPaymentTerms(""))
}

func TestBuildItemsComputesSubtotals(t *testing.T) {
	items, total, err := buildItems([]LineItemInput{
		{ProductID: 1, Quantity: 5, UnitPrice: money(1000)},
		{ProductID: 2, Quantity: 3, UnitPrice: money(250)},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.True(t, items[0].Subtotal.Equal(money(5000)))
	require.True(t, items[1].Subtotal.Equal(money(750)))
	require.True(t, total.Equal(money(5750)))
	require.Equal(t, 0, items[0].LineOrder)
	require.Equal(t, 1, items[1].LineOrder)
}
