package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/commerce/config"
	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/eventbus"
	"example.com/commerce/internal/eventstore"
	"example.com/commerce/internal/handlers"
	"example.com/commerce/internal/messaging"
	"example.com/commerce/internal/metrics"
	"example.com/commerce/internal/repository"
)

type fixture struct {
	server    *Server
	transport *eventbus.MemoryTransport
	orders    *handlers.OrderHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "api_test")
	store := eventstore.NewMemoryStore()
	transport := eventbus.NewMemoryTransport()
	bus := eventbus.New(transport, "api", eventbus.WithStream(eventbus.NewMemoryStream(100)), eventbus.WithMetrics(m))

	runner := handlers.NewRunner(store, bus, handlers.WithMetrics(m))
	orders := handlers.NewOrderHandler(runner, repository.New(store, domain.OrderAggregateType, domain.NewOrder))

	server := NewServer(config.ServerConfig{CorsEnabled: true, CorsOrigins: []string{"https://shop.example"}}, Dependencies{
		Store:    store,
		Bus:      bus,
		Handlers: messaging.Handlers{Orders: orders},
		Gatherer: reg,
	})
	return &fixture{server: server, transport: transport, orders: orders}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createOrder(t *testing.T, id string) {
	t.Helper()
	_, err := f.orders.HandleCreateOrder(context.Background(), handlers.CreateOrderCommand{
		OrderID:    id,
		CustomerID: "customer-1",
		Items:      []domain.OrderItemInput{{ProductID: "p1", SKU: "S1", Quantity: 1, Price: 9.5}},
	})
	require.NoError(t, err)
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pong", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(requestIDKey))
}

func TestGetStream(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1")

	rec := f.do(t, http.MethodGet, "/api/v1/streams/order-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []EventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, domain.OrderCreatedType, events[0].Event.EventType)
	assert.True(t, events[0].Published)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/streams/missing", "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/streams/order-1?from=x", "").Code)
}

func TestGetEventsPagesAndFilters(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1")
	f.createOrder(t, "order-2")

	rec := f.do(t, http.MethodGet, "/api/v1/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	require.Equal(t, "order-1", page.Events[0].Event.AggregateID)

	rec = f.do(t, http.MethodGet, "/api/v1/events?type="+domain.OrderCreatedType+"&from="+strconv.FormatInt(page.Next, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	require.Equal(t, "order-2", page.Events[0].Event.AggregateID)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/events?limit=0", "").Code)
}

func TestGetAggregateState(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1")

	rec := f.do(t, http.MethodGet, "/api/v1/orders/order-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ID      string                 `json:"id"`
		Type    string                 `json:"type"`
		Version int                    `json:"version"`
		State   map[string]interface{} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp.ID)
	assert.Equal(t, domain.OrderAggregateType, resp.Type)
	assert.Equal(t, 1, resp.Version)
	assert.NotEmpty(t, resp.State)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/orders/missing", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/users/u1", "").Code, "unwired aggregate routes are absent")
}

func TestRealtimeMirrorsPublishedEvents(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1")

	rec := f.do(t, http.MethodGet, "/api/v1/realtime?count=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []eventbus.StreamEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "order-1", entries[0].Event.AggregateID)

	rec = f.do(t, http.MethodGet, "/api/v1/realtime?from="+entries[0].ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Empty(t, entries)
}

func TestSendCommand(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/commands/order-service", `{"commandType":"CreateOrder","payload":{"customerId":"c1"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "commandId")
	require.Equal(t, 1, f.transport.PendingCommands("order-service"))

	rec = f.do(t, http.MethodPost, "/api/v1/commands/order-service", `{"payload":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditHistoryDisabled(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/api/v1/streams/order-1/history", "").Code)
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "order-1")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "api_test_events_published_total")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/events", nil)
	req.Header.Set("Origin", "https://shop.example")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartAndShutdownConcurrently(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(config.ServerConfig{Address: "127.0.0.1:0", Timeout: time.Second}, Dependencies{
		Store: eventstore.NewMemoryStore(),
		Bus:   eventbus.New(eventbus.NewMemoryTransport(), "api"),
	})

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
