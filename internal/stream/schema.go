package stream

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

// orderWire is the strict shape of an orders entry. Pointers distinguish a
// missing field from a zero value.
type orderWire struct {
	OrderID     *string          `json:"order_id"`
	TokenIn     *string          `json:"token_in"`
	TokenOut    *string          `json:"token_out"`
	Amount      *decimal.Decimal `json:"amount"`
	OrderType   *string          `json:"order_type"`
	MaxSlippage *decimal.Decimal `json:"max_slippage"`
}

// statusWire is the strict shape of a status entry.
type statusWire struct {
	OrderID        *string          `json:"order_id"`
	Status         *string          `json:"status"`
	TxHash         *string          `json:"tx_hash"`
	Reason         *string          `json:"reason"`
	ExecutionPrice *decimal.Decimal `json:"execution_price"`
	Venue          string           `json:"venue"`
}

// number encodes a decimal as a bare JSON number. Both logs carry amounts
// and prices this way; decoding accepts either form.
type number struct {
	decimal.Decimal
}

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(n.String()), nil
}

// orderOut is the encoded shape of an orders entry.
type orderOut struct {
	OrderID     string `json:"order_id"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	Amount      number `json:"amount"`
	OrderType   string `json:"order_type"`
	MaxSlippage number `json:"max_slippage"`
}

// statusOut is the encoded shape of a status entry.
type statusOut struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	TxHash         *string `json:"tx_hash,omitempty"`
	Reason         *string `json:"reason,omitempty"`
	ExecutionPrice *number `json:"execution_price,omitempty"`
	Venue          string  `json:"venue,omitempty"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedEntry, fmt.Sprintf(format, args...))
}

// EncodeOrder renders an admitted order as an orders entry payload.
func EncodeOrder(o domain.Order) ([]byte, error) {
	return json.Marshal(orderOut{
		OrderID:     o.ID,
		TokenIn:     o.TokenIn,
		TokenOut:    o.TokenOut,
		Amount:      number{o.Amount},
		OrderType:   string(o.OrderType),
		MaxSlippage: number{o.MaxSlippage},
	})
}

// DecodeOrder parses an orders entry. Any missing field, type mismatch or
// out-of-range value yields an error wrapping domain.ErrMalformedEntry.
func DecodeOrder(payload []byte) (domain.Order, error) {
	if payload == nil {
		return domain.Order{}, malformed("missing payload field")
	}
	var w orderWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.Order{}, malformed("order: %v", err)
	}

	var missing []string
	if w.OrderID == nil || *w.OrderID == "" {
		missing = append(missing, "order_id")
	}
	if w.TokenIn == nil {
		missing = append(missing, "token_in")
	}
	if w.TokenOut == nil {
		missing = append(missing, "token_out")
	}
	if w.Amount == nil {
		missing = append(missing, "amount")
	}
	if w.OrderType == nil {
		missing = append(missing, "order_type")
	}
	if w.MaxSlippage == nil {
		missing = append(missing, "max_slippage")
	}
	if len(missing) > 0 {
		return domain.Order{}, malformed("order: missing %v", missing)
	}

	req := domain.OrderRequest{
		TokenIn:     *w.TokenIn,
		TokenOut:    *w.TokenOut,
		Amount:      *w.Amount,
		MaxSlippage: w.MaxSlippage,
		OrderType:   domain.OrderType(*w.OrderType),
	}
	if err := req.Validate(); err != nil {
		return domain.Order{}, malformed("order %s: %v", *w.OrderID, err)
	}
	return domain.NewOrder(*w.OrderID, req), nil
}

// EncodeStatus renders a status event as a status entry payload.
func EncodeStatus(ev domain.StatusEvent) ([]byte, error) {
	out := statusOut{
		OrderID: ev.OrderID,
		Status:  string(ev.Status),
		TxHash:  ev.TxHash,
		Reason:  ev.Reason,
		Venue:   ev.Venue,
	}
	if ev.ExecutionPrice != nil {
		out.ExecutionPrice = &number{*ev.ExecutionPrice}
	}
	return json.Marshal(out)
}

// DecodeStatus parses a status entry. Terminal events must carry their
// outcome: tx_hash for confirmed, reason for failed.
func DecodeStatus(payload []byte) (domain.StatusEvent, error) {
	if payload == nil {
		return domain.StatusEvent{}, malformed("missing payload field")
	}
	var w statusWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.StatusEvent{}, malformed("status: %v", err)
	}
	if w.OrderID == nil || *w.OrderID == "" {
		return domain.StatusEvent{}, malformed("status: missing order_id")
	}
	if w.Status == nil {
		return domain.StatusEvent{}, malformed("status %s: missing status", *w.OrderID)
	}

	status := domain.OrderStatus(*w.Status)
	if !status.Valid() {
		return domain.StatusEvent{}, malformed("status %s: unknown status %q", *w.OrderID, *w.Status)
	}
	if status == domain.OrderStatusConfirmed && w.TxHash == nil {
		return domain.StatusEvent{}, malformed("status %s: confirmed without tx_hash", *w.OrderID)
	}
	if status == domain.OrderStatusFailed && w.Reason == nil {
		return domain.StatusEvent{}, malformed("status %s: failed without reason", *w.OrderID)
	}

	return domain.StatusEvent{
		OrderID:        *w.OrderID,
		Status:         status,
		TxHash:         w.TxHash,
		Reason:         w.Reason,
		ExecutionPrice: w.ExecutionPrice,
		Venue:          w.Venue,
	}, nil
}
