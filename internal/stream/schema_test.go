package stream

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexrouter/internal/domain"
)

func TestDecodeOrder(t *testing.T) {
	payload := []byte(`{"order_id":"ord-1","token_in":"SOL","token_out":"USDC","amount":10,"order_type":"market","max_slippage":0.05}`)

	o, err := DecodeOrder(payload)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", o.ID)
	assert.Equal(t, "SOL", o.TokenIn)
	assert.Equal(t, "USDC", o.TokenOut)
	assert.True(t, o.Amount.Equal(decimal.NewFromInt(10)))
	assert.True(t, o.MaxSlippage.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, domain.OrderTypeMarket, o.OrderType)
}

func TestDecodeOrderRoundTrip(t *testing.T) {
	req := domain.OrderRequest{
		TokenIn:  "SOL",
		TokenOut: "USDC",
		Amount:   decimal.RequireFromString("2.5"),
	}
	in := domain.NewOrder("ord-9", req)

	payload, err := EncodeOrder(in)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"order_id":"ord-9","token_in":"SOL","token_out":"USDC","amount":2.5,"order_type":"market","max_slippage":0.05}`,
		string(payload))

	out, err := DecodeOrder(payload)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.Amount.Equal(out.Amount))
}

func TestDecodeOrderMalformed(t *testing.T) {
	cases := map[string][]byte{
		"nil payload":       nil,
		"not json":          []byte(`not json`),
		"missing order_id":  []byte(`{"token_in":"SOL","token_out":"USDC","amount":10,"order_type":"market","max_slippage":0.05}`),
		"missing amount":    []byte(`{"order_id":"a","token_in":"SOL","token_out":"USDC","order_type":"market","max_slippage":0.05}`),
		"missing slippage":  []byte(`{"order_id":"a","token_in":"SOL","token_out":"USDC","amount":10,"order_type":"market"}`),
		"amount type":       []byte(`{"order_id":"a","token_in":"SOL","token_out":"USDC","amount":true,"order_type":"market","max_slippage":0.05}`),
		"token type":        []byte(`{"order_id":"a","token_in":7,"token_out":"USDC","amount":10,"order_type":"market","max_slippage":0.05}`),
		"slippage range":    []byte(`{"order_id":"a","token_in":"SOL","token_out":"USDC","amount":10,"order_type":"market","max_slippage":0.6}`),
		"negative amount":   []byte(`{"order_id":"a","token_in":"SOL","token_out":"USDC","amount":-1,"order_type":"market","max_slippage":0.05}`),
		"unknown orderType": []byte(`{"order_id":"a","token_in":"SOL","token_out":"USDC","amount":1,"order_type":"limit","max_slippage":0.05}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOrder(payload)
			assert.ErrorIs(t, err, domain.ErrMalformedEntry)
		})
	}
}

func TestDecodeStatus(t *testing.T) {
	ev, err := DecodeStatus([]byte(`{"order_id":"ord-1","status":"confirmed","tx_hash":"0xabc","execution_price":219.75,"venue":"raydium"}`))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ev.OrderID)
	assert.Equal(t, domain.OrderStatusConfirmed, ev.Status)
	require.NotNil(t, ev.TxHash)
	assert.Equal(t, "0xabc", *ev.TxHash)
	require.NotNil(t, ev.ExecutionPrice)
	assert.True(t, ev.ExecutionPrice.Equal(decimal.RequireFromString("219.75")))
	assert.Equal(t, "raydium", ev.Venue)
	assert.True(t, ev.Terminal())

	ev, err = DecodeStatus([]byte(`{"order_id":"ord-1","status":"routing"}`))
	require.NoError(t, err)
	assert.False(t, ev.Terminal())
	assert.Nil(t, ev.TxHash)
}

func TestDecodeStatusMalformed(t *testing.T) {
	cases := map[string][]byte{
		"nil payload":            nil,
		"not json":               []byte(`{`),
		"missing order_id":       []byte(`{"status":"routing"}`),
		"missing status":         []byte(`{"order_id":"a"}`),
		"unknown status":         []byte(`{"order_id":"a","status":"settled"}`),
		"status type":            []byte(`{"order_id":"a","status":3}`),
		"confirmed without hash": []byte(`{"order_id":"a","status":"confirmed"}`),
		"failed without reason":  []byte(`{"order_id":"a","status":"failed"}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeStatus(payload)
			assert.ErrorIs(t, err, domain.ErrMalformedEntry)
		})
	}
}

func TestEncodeStatusWritesNumbers(t *testing.T) {
	tx := "0xabc"
	price := decimal.RequireFromString("219.75")
	ev := domain.StatusEvent{OrderID: "a", Status: domain.OrderStatusConfirmed, TxHash: &tx, ExecutionPrice: &price}

	payload, err := EncodeStatus(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"a","status":"confirmed","tx_hash":"0xabc","execution_price":219.75}`, string(payload))

	// The domain types keep decimal's default string encoding.
	plain, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(plain), `"execution_price":"219.75"`)

	back, err := DecodeStatus(plain)
	require.NoError(t, err)
	assert.True(t, price.Equal(*back.ExecutionPrice))
}

func TestEncodeStatusOmitsAbsentFields(t *testing.T) {
	payload, err := EncodeStatus(domain.StatusEvent{OrderID: "a", Status: domain.OrderStatusPending})
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"a","status":"pending"}`, string(payload))
}
