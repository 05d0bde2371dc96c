package broker_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/infrastructure/broker"
)

func TestKiteAdapter_PlaceBuy(t *testing.T) {
	var got http.Header
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders/regular", r.URL.Path)
		require.NoError(t, r.ParseForm())
		got = r.Header
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Write([]byte(`{"status":"success","data":{"order_id":"151220000000000"}}`))
	}))
	defer srv.Close()

	k := broker.NewKiteAdapter(broker.KiteConfig{APIKey: "key", AccessToken: "tok", BaseURL: srv.URL})
	id, err := k.PlaceBuy(context.Background(), "NIFTY24O1724500CE", 180.12, 75, "entry-main-with-a-long-tag")
	require.NoError(t, err)

	assert.Equal(t, "151220000000000", id)
	assert.Equal(t, "token key:tok", got.Get("Authorization"))
	assert.Equal(t, "3", got.Get("X-Kite-Version"))
	assert.Equal(t, "BUY", form["transaction_type"])
	assert.Equal(t, "LIMIT", form["order_type"])
	assert.Equal(t, "180.10", form["price"])
	assert.Equal(t, "75", form["quantity"])
	assert.Equal(t, "NFO", form["exchange"])
	assert.Len(t, form["tag"], 20)
}

func TestKiteAdapter_MarketSellHasNoPrice(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{"status":"success","data":{"order_id":"2"}}`))
	}))
	defer srv.Close()

	k := broker.NewKiteAdapter(broker.KiteConfig{BaseURL: srv.URL})
	_, err := k.PlaceMarketSell(context.Background(), "NIFTY24O1724500PE", 150, 75, "")
	require.NoError(t, err)
	assert.Equal(t, "SELL", form["transaction_type"][0])
	assert.Equal(t, "MARKET", form["order_type"][0])
	assert.NotContains(t, form, "price")
	assert.NotContains(t, form, "tag")
}

func TestKiteAdapter_OrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","message":"Insufficient funds","error_type":"MarginException"}`))
	}))
	defer srv.Close()

	k := broker.NewKiteAdapter(broker.KiteConfig{BaseURL: srv.URL})
	_, err := k.PlaceBuy(context.Background(), "X-CE", 100, 75, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Insufficient funds")
}

func TestKiteAdapter_GetOrderHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/151220000000000", r.URL.Path)
		w.Write([]byte(`{"status":"success","data":[
			{"status":"OPEN PENDING","average_price":0,"order_timestamp":"2024-10-17 09:30:01"},
			{"status":"OPEN","average_price":0,"order_timestamp":"2024-10-17 09:30:01"},
			{"status":"COMPLETE","average_price":180.35,"order_timestamp":"2024-10-17 09:30:02"}
		]}`))
	}))
	defer srv.Close()

	k := broker.NewKiteAdapter(broker.KiteConfig{BaseURL: srv.URL})
	history, err := k.GetOrderHistory(context.Background(), "151220000000000")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[2].Timestamp.Second())

	price, ok := domain.FillPrice(history)
	assert.True(t, ok)
	assert.Equal(t, 180.35, price)
}

func TestKiteAdapter_RoundToTick(t *testing.T) {
	k := broker.NewKiteAdapter(broker.KiteConfig{})
	assert.Equal(t, 180.1, k.RoundToTick(180.12))
	assert.Equal(t, 180.15, k.RoundToTick(180.13))
	assert.Equal(t, 0.05, k.RoundToTick(0.04))
}

func TestPaperBroker(t *testing.T) {
	p := broker.NewPaperBroker(0.05)
	ctx := context.Background()

	id, err := p.PlaceBuy(ctx, "X-CE", 101.02, 75, "")
	require.NoError(t, err)
	history, err := p.GetOrderHistory(ctx, id)
	require.NoError(t, err)
	price, ok := domain.FillPrice(history)
	require.True(t, ok)
	assert.Equal(t, 101.0, price)

	_, err = p.PlaceMarketSell(ctx, "X-CE", 0, 75, "")
	assert.Error(t, err)
	_, err = p.GetOrderHistory(ctx, "nope")
	assert.Error(t, err)
}
