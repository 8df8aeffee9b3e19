package domain

import "testing"

func TestParseOrderStatus(t *testing.T) {
	for _, s := range OrderStatuses {
		parsed, ok := ParseOrderStatus(string(s))
		if !ok || parsed != s {
			t.Fatalf("expected %q to parse, got %q ok=%v", s, parsed, ok)
		}
	}

	for _, raw := range []string{"", "shipped", "IN_PROGRESS", "in progress"} {
		if _, ok := ParseOrderStatus(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestTransitionStockEffect(t *testing.T) {
	cases := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want StockEffect
	}{
		{name: "active to cancelled restores", from: OrderStatusInProgress, to: OrderStatusCancelled, want: StockEffectRestore},
		{name: "delayed to refunded restores", from: OrderStatusDelayed, to: OrderStatusRefunded, want: StockEffectRestore},
		{name: "delivered to refunded restores", from: OrderStatusDelivered, to: OrderStatusRefunded, want: StockEffectRestore},
		{name: "cancelled to in_progress redecrements", from: OrderStatusCancelled, to: OrderStatusInProgress, want: StockEffectRedecrement},
		{name: "refunded to pending redecrements", from: OrderStatusRefunded, to: OrderStatusPending, want: StockEffectRedecrement},
		{name: "active to active no effect", from: OrderStatusInProgress, to: OrderStatusDelivered, want: StockEffectNone},
		{name: "inactive to inactive no effect", from: OrderStatusCancelled, to: OrderStatusRefunded, want: StockEffectNone},
		{name: "cancelled to cancelled no effect", from: OrderStatusCancelled, to: OrderStatusCancelled, want: StockEffectNone},
		{name: "refunded to refunded no effect", from: OrderStatusRefunded, to: OrderStatusRefunded, want: StockEffectNone},
		{name: "in_progress to in_progress no effect", from: OrderStatusInProgress, to: OrderStatusInProgress, want: StockEffectNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TransitionStockEffect(tc.from, tc.to); got != tc.want {
				t.Fatalf("TransitionStockEffect(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestActiveStatuses(t *testing.T) {
	active := map[OrderStatus]bool{
		OrderStatusPending:    true,
		OrderStatusInProgress: true,
		OrderStatusDelivered:  true,
		OrderStatusDelayed:    true,
		OrderStatusCancelled:  false,
		OrderStatusRefunded:   false,
	}
	for s, want := range active {
		if got := s.Active(); got != want {
			t.Fatalf("%s.Active() = %v, want %v", s, got, want)
		}
	}
}
