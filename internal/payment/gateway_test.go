package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSignAndVerify(t *testing.T) {
	sig := Sign("s3cret", "order_1", "pay_1")
	assert.Len(t, sig, 64)

	assert.True(t, Verify("s3cret", "order_1", "pay_1", sig))
	assert.False(t, Verify("s3cret", "order_1", "pay_2", sig))
	assert.False(t, Verify("other", "order_1", "pay_1", sig))
	assert.False(t, Verify("s3cret", "order_1", "pay_1", ""))
	assert.False(t, Verify("s3cret", "order_1", "pay_1", sig[:63]))
}

func TestSignSeparatesFields(t *testing.T) {
	// "a|bc" and "ab|c" must not collide
	assert.NotEqual(t, Sign("k", "a", "bc"), Sign("k", "ab", "c"))
}

func TestToMinor(t *testing.T) {
	assert.Equal(t, int64(40000), ToMinor(decimal.NewFromInt(400)))
	assert.Equal(t, int64(49950), ToMinor(decimal.RequireFromString("499.50")))
	assert.Equal(t, int64(0), ToMinor(decimal.Zero))
}

func TestMockGateway(t *testing.T) {
	g := NewMockGateway("secret")
	ctx := context.Background()

	order, err := g.CreateOrder(ctx, 1500, "INR", "BK-1")
	require.NoError(t, err)
	assert.Equal(t, "order_BK-1", order.ID)
	assert.Equal(t, int64(1500), order.Amount)

	zero, err := g.CreateOrder(ctx, 0, "INR", "BK-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), zero.Amount)

	sig := g.SignPayment(order.ID, "pay_1")
	assert.True(t, g.VerifySignature(order.ID, "pay_1", sig))
	assert.False(t, g.VerifySignature(order.ID, "pay_1", "deadbeef"))

	id, err := g.Refund(ctx, "pay_1", 700)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, g.Refunds(), 1)
	assert.Equal(t, int64(700), g.Refunds()[0].AmountMinor)

	g.FailRefunds(errors.New("gateway down"))
	_, err = g.Refund(ctx, "pay_1", 700)
	assert.Error(t, err)
	assert.Len(t, g.Refunds(), 1)
}

func TestRazorpayClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/orders":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id":       "order_abc",
				"amount":   body["amount"],
				"currency": body["currency"],
				"receipt":  body["receipt"],
				"status":   "created",
			})
		case "/payments/pay_1/refund":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "rfnd_1"})
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"unknown"}}`))
		}
	}))
	defer srv.Close()

	c := NewRazorpayClient("key", "secret", srv.URL+"/", zap.NewNop())
	ctx := context.Background()

	order, err := c.CreateOrder(ctx, 25000, "INR", "BK-9")
	require.NoError(t, err)
	assert.Equal(t, "order_abc", order.ID)
	assert.Equal(t, int64(25000), order.Amount)
	assert.Equal(t, "BK-9", order.Receipt)

	refundID, err := c.Refund(ctx, "pay_1", 100)
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refundID)

	_, err = c.Refund(ctx, "pay_unknown", 100)
	assert.ErrorContains(t, err, "BAD_REQUEST_ERROR")

	assert.True(t, c.VerifySignature("order_abc", "pay_1", Sign("secret", "order_abc", "pay_1")))

	bad := NewRazorpayClient("key", "wrong", srv.URL, zap.NewNop())
	_, err = bad.CreateOrder(ctx, 100, "INR", "BK-10")
	assert.ErrorContains(t, err, "401")
}
