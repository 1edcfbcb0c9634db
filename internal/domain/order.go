package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderType is the execution policy requested by the submitter. Only market
// orders are routed today; the value is carried through for the record.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusRouting   OrderStatus = "routing"
	OrderStatusBuilding  OrderStatus = "building"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Rank returns the lifecycle ordinal of the status. Both terminal statuses
// share the last rank. Unknown statuses return -1.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusRouting:
		return 1
	case OrderStatusBuilding:
		return 2
	case OrderStatusSubmitted:
		return 3
	case OrderStatusConfirmed, OrderStatusFailed:
		return 4
	default:
		return -1
	}
}

// Terminal reports whether no further events follow this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic: strictly forward, and any skip must land on failed.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	from, to := s.Rank(), next.Rank()
	if to <= from {
		return false
	}
	if to == from+1 {
		return true
	}
	return next == OrderStatusFailed
}

var (
	// MinSlippage and MaxSlippage bound the accepted max_slippage fraction
	// (exclusive on both ends).
	MinSlippage = decimal.RequireFromString("0.01")
	MaxSlippage = decimal.RequireFromString("0.5")

	// DefaultSlippage is applied when a request omits max_slippage.
	DefaultSlippage = decimal.RequireFromString("0.05")
)

// OrderRequest is the client payload accepted by the gateway.
type OrderRequest struct {
	TokenIn     string           `json:"token_in"`
	TokenOut    string           `json:"token_out"`
	Amount      decimal.Decimal  `json:"amount"`
	MaxSlippage *decimal.Decimal `json:"max_slippage,omitempty"`
	OrderType   OrderType        `json:"order_type"`
}

// Validate checks the request before it is admitted to the orders log. The
// returned error wraps ErrInvalidOrder.
func (r OrderRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.TokenIn) == "" {
		problems = append(problems, "token_in is required")
	}
	if strings.TrimSpace(r.TokenOut) == "" {
		problems = append(problems, "token_out is required")
	}
	if r.TokenIn != "" && strings.EqualFold(r.TokenIn, r.TokenOut) {
		problems = append(problems, "token_in and token_out must differ")
	}
	if !r.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if r.MaxSlippage != nil {
		s := *r.MaxSlippage
		if s.LessThanOrEqual(MinSlippage) || s.GreaterThanOrEqual(MaxSlippage) {
			problems = append(problems, fmt.Sprintf("max_slippage must be within (%s, %s)", MinSlippage, MaxSlippage))
		}
	}
	if r.OrderType != "" && r.OrderType != OrderTypeMarket {
		problems = append(problems, fmt.Sprintf("unsupported order_type %q", r.OrderType))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(problems, "; "))
	}
	return nil
}

// Slippage returns the requested max slippage, or DefaultSlippage.
func (r OrderRequest) Slippage() decimal.Decimal {
	if r.MaxSlippage == nil {
		return DefaultSlippage
	}
	return *r.MaxSlippage
}

// Order is an admitted order as carried on the orders log and owned by a
// single executor while in flight.
type Order struct {
	ID          string          `json:"order_id"`
	TokenIn     string          `json:"token_in"`
	TokenOut    string          `json:"token_out"`
	Amount      decimal.Decimal `json:"amount"`
	OrderType   OrderType       `json:"order_type"`
	MaxSlippage decimal.Decimal `json:"max_slippage"`
}

// NewOrder builds an admitted order from a validated request.
func NewOrder(id string, req OrderRequest) Order {
	ot := req.OrderType
	if ot == "" {
		ot = OrderTypeMarket
	}
	return Order{
		ID:          id,
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		Amount:      req.Amount,
		OrderType:   ot,
		MaxSlippage: req.Slippage(),
	}
}
