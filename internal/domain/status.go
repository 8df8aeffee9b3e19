package domain

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is reserved; no documented flow produces it, but
	// admin overrides may set it and it counts as an active status.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusInProgress indicates payment succeeded and the order awaits
	// its fulfillment decision. Initial state for every order.
	OrderStatusInProgress OrderStatus = "in_progress"
	// OrderStatusDelivered is the terminal success state.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusDelayed indicates the order awaits a customer accept/decline.
	OrderStatusDelayed OrderStatus = "delayed"
	// OrderStatusCancelled is terminal; line item stock has been restored.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded is terminal; line item stock has been restored.
	OrderStatusRefunded OrderStatus = "refunded"
)

// OrderStatuses lists every recognized status.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusInProgress,
	OrderStatusDelivered,
	OrderStatusDelayed,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// ParseOrderStatus validates a raw status string against the known set.
// Unknown strings must be rejected before any mutation is attempted.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	for _, s := range OrderStatuses {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// Active reports whether the status holds line item stock. Cancelled and
// refunded orders have returned their stock to the shelf; every other
// status still owns it.
func (s OrderStatus) Active() bool {
	switch s {
	case OrderStatusPending, OrderStatusInProgress, OrderStatusDelivered, OrderStatusDelayed:
		return true
	default:
		return false
	}
}

// StockEffect describes the inventory side effect a status transition must
// carry with it.
type StockEffect int

const (
	// StockEffectNone leaves inventory untouched.
	StockEffectNone StockEffect = iota
	// StockEffectRestore returns every line item quantity to stock.
	StockEffectRestore
	// StockEffectRedecrement takes every line item quantity back out of
	// stock; if any book would go negative the whole transition fails.
	StockEffectRedecrement
)

// TransitionStockEffect is the single source of truth for inventory side
// effects. Effects fire only when the previous and new status fall on
// different sides of the active/inactive boundary; a repeated same-class
// transition (cancelled to refunded, or cancelled to cancelled) carries no
// effect, so stock can never be restored or taken twice in a row.
func TransitionStockEffect(from, to OrderStatus) StockEffect {
	if from == to {
		return StockEffectNone
	}
	switch {
	case from.Active() && !to.Active():
		return StockEffectRestore
	case !from.Active() && to.Active():
		return StockEffectRedecrement
	default:
		return StockEffectNone
	}
}

// Terminal reports whether the documented flow intends no further
// transitions out of the status. Admin overrides may still move terminal
// orders; the inventory ledger stays consistent because effects key off the
// active/inactive boundary, not off terminality.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}
