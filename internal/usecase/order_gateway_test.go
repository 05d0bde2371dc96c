package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"go.uber.org/zap"
)

var fastPolls = usecase.GatewayConfig{PollInterval: time.Millisecond, MaxPolls: 3}

func liveRequest() usecase.OrderRequest {
	return usecase.OrderRequest{
		SessionID: "s1",
		Cycle:     1,
		Token:     1,
		Symbol:    "A-CE",
		Price:     180,
		Quantity:  75,
		Tag:       "entry-main",
		Live:      true,
	}
}

func waitFill(t *testing.T, p *usecase.PendingOrder) usecase.Fill {
	t.Helper()
	select {
	case f := <-p.Done():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("fill never resolved")
	}
	return usecase.Fill{}
}

func TestOrderGateway_LiveFillFromHistory(t *testing.T) {
	broker := &MockBroker{Fill: 181.5}
	repo := NewMockRepo()
	gw := usecase.NewOrderGateway(broker, repo, zap.NewNop(), fastPolls)
	defer gw.Close()

	p := gw.PlaceBuy(context.Background(), liveRequest())
	require.True(t, p.Accepted)

	f := waitFill(t, p)
	assert.False(t, f.Fallback)
	assert.Equal(t, 181.5, f.Price)
	assert.Equal(t, 180.0, f.RequestedPrice)
	assert.Equal(t, domain.SideBuy, f.Side)

	o, ok := repo.Order(f.OrderID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusComplete, o.Status)
	assert.Equal(t, 181.5, o.ExecutedPrice)

	drained := gw.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, f, drained[0])
	assert.Empty(t, gw.Drain())
}

func TestOrderGateway_UnresolvedFillFallsBackToReference(t *testing.T) {
	broker := &MockBroker{NoHistory: true}
	repo := NewMockRepo()
	gw := usecase.NewOrderGateway(broker, repo, zap.NewNop(), fastPolls)
	defer gw.Close()

	f := waitFill(t, gw.PlaceSell(context.Background(), liveRequest()))
	assert.True(t, f.Fallback)
	assert.Equal(t, 180.0, f.Price)
	assert.Equal(t, domain.SideSell, f.Side)
	require.Error(t, f.Err)

	o, ok := repo.Order(f.OrderID)
	require.True(t, ok)
	assert.Equal(t, 180.0, o.ExecutedPrice, "journal never holds a zero price")
}

func TestOrderGateway_ZeroAveragePriceFallsBack(t *testing.T) {
	broker := &MockBroker{History: []domain.OrderHistoryEntry{
		{Status: domain.OrderStatusComplete, AveragePrice: 0},
	}}
	gw := usecase.NewOrderGateway(broker, nil, zap.NewNop(), fastPolls)
	defer gw.Close()

	f := waitFill(t, gw.PlaceBuy(context.Background(), liveRequest()))
	assert.True(t, f.Fallback)
	assert.Equal(t, 180.0, f.Price)
}

func TestOrderGateway_RejectedOrderStopsPolling(t *testing.T) {
	broker := &MockBroker{History: []domain.OrderHistoryEntry{
		{Status: domain.OrderStatusOpen},
		{Status: domain.OrderStatusRejected},
	}}
	gw := usecase.NewOrderGateway(broker, nil, zap.NewNop(), usecase.GatewayConfig{PollInterval: time.Millisecond, MaxPolls: 1000})
	defer gw.Close()

	f := waitFill(t, gw.PlaceBuy(context.Background(), liveRequest()))
	assert.True(t, f.Fallback)
	assert.Contains(t, f.Err.Error(), domain.OrderStatusRejected)
}

func TestOrderGateway_PlacementFailure(t *testing.T) {
	broker := &MockBroker{PlaceErr: errors.New("insufficient margin")}
	repo := NewMockRepo()
	gw := usecase.NewOrderGateway(broker, repo, zap.NewNop(), fastPolls)
	defer gw.Close()

	p := gw.PlaceBuy(context.Background(), liveRequest())
	assert.True(t, p.Accepted)
	f := waitFill(t, p)
	assert.True(t, f.Fallback)
	assert.Equal(t, 180.0, f.Price)
	assert.True(t, strings.HasPrefix(f.OrderID, "failed-"))

	o, ok := repo.Order(f.OrderID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFailed, o.Status)
}

func TestOrderGateway_PaperModeNeverReachesBroker(t *testing.T) {
	broker := &MockBroker{}
	repo := NewMockRepo()
	gw := usecase.NewOrderGateway(broker, repo, zap.NewNop(), fastPolls)
	defer gw.Close()

	req := liveRequest()
	req.Live = false
	p := gw.PlaceBuy(context.Background(), req)

	f := waitFill(t, p)
	assert.False(t, f.Fallback)
	assert.Equal(t, 180.0, f.Price)
	assert.True(t, strings.HasPrefix(f.OrderID, "paper-"))
	assert.Empty(t, broker.Placed)

	o, ok := repo.Order(f.OrderID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusPaper, o.Status)
}

func TestOrderGateway_InvalidRequestRejectedUpFront(t *testing.T) {
	gw := usecase.NewOrderGateway(&MockBroker{}, nil, zap.NewNop(), fastPolls)
	defer gw.Close()

	req := liveRequest()
	req.Quantity = 0
	p := gw.PlaceBuy(context.Background(), req)
	assert.False(t, p.Accepted)
	f := waitFill(t, p)
	assert.True(t, f.Fallback)
	assert.Equal(t, 180.0, f.Price)
}

func TestOrderGateway_CloseResolvesOutstanding(t *testing.T) {
	broker := &MockBroker{NoHistory: true}
	gw := usecase.NewOrderGateway(broker, nil, zap.NewNop(), usecase.GatewayConfig{PollInterval: time.Hour, MaxPolls: 5})

	p := gw.PlaceBuy(context.Background(), liveRequest())
	gw.Close()

	f := waitFill(t, p)
	assert.True(t, f.Fallback)
	assert.Equal(t, 180.0, f.Price)

	late := gw.PlaceBuy(context.Background(), liveRequest())
	assert.False(t, late.Accepted)
}
