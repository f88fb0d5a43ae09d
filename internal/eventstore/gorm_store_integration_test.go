//go:build integration

package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"example.com/commerce/config"
	"example.com/commerce/internal/database"
	"example.com/commerce/internal/domain"
)

// GormStoreSuite runs the store contract against a PostgreSQL container.
type GormStoreSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	db        *gorm.DB
	store     *GormStore
}

func TestGormStoreSuite(t *testing.T) {
	suite.Run(t, new(GormStoreSuite))
}

func (s *GormStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("commerce"),
		postgres.WithUsername("commerce"),
		postgres.WithPassword("commerce"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := database.Connect(config.DatabaseConfig{DSN: dsn, MaxOpenConns: 10})
	s.Require().NoError(err)
	s.Require().NoError(database.Migrate(db))

	s.db = db
	s.store = NewGormStore(db)
}

func (s *GormStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = database.Close(s.db)
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *GormStoreSuite) SetupTest() {
	s.Require().NoError(s.db.Exec("TRUNCATE events, snapshots RESTART IDENTITY").Error)
}

func (s *GormStoreSuite) newOrderEvents(id string) []domain.Event {
	order, err := domain.CreateOrder(id, "customer-1", []domain.OrderItemInput{
		{ProductID: "p1", SKU: "S1", Quantity: 2, Price: 10},
	}, domain.Address{}, domain.Address{})
	s.Require().NoError(err)
	s.Require().NoError(order.Confirm())
	return order.UncommittedEvents()
}

func (s *GormStoreSuite) TestSaveAndLoad() {
	ctx := context.Background()
	events := s.newOrderEvents("order-1")

	s.Require().NoError(s.store.SaveEvents(ctx, "order-1", events, 0))

	stored, err := s.store.GetEvents(ctx, "order-1", 0)
	s.Require().NoError(err)
	s.Require().Len(stored, 2)
	s.Equal(1, stored[0].Version)
	s.Equal(2, stored[1].Event.Metadata.Version)

	created, ok := stored[0].Event.Data.(domain.OrderCreated)
	s.Require().True(ok)
	s.Equal("customer-1", created.CustomerID)

	order, err := domain.OrderFromEvents("order-1", Events(stored))
	s.Require().NoError(err)
	s.Equal(20.0, order.TotalAmount())
	s.Equal(domain.OrderStatusConfirmed, order.Status())
}

func (s *GormStoreSuite) TestStaleVersionIsRejected() {
	ctx := context.Background()
	s.Require().NoError(s.store.SaveEvents(ctx, "order-1", s.newOrderEvents("order-1"), 0))

	err := s.store.SaveEvents(ctx, "order-1", s.newOrderEvents("order-1"), 0)
	s.Require().True(IsConcurrencyConflict(err))

	err = s.store.SaveEvents(ctx, "order-1", s.newOrderEvents("order-1"), 1)
	s.Require().True(IsConcurrencyConflict(err))

	stored, err := s.store.GetEvents(ctx, "order-1", 0)
	s.Require().NoError(err)
	s.Len(stored, 2)
}

func (s *GormStoreSuite) TestFeedsAndOutbox() {
	ctx := context.Background()
	s.Require().NoError(s.store.SaveEvents(ctx, "order-1", s.newOrderEvents("order-1"), 0))
	s.Require().NoError(s.store.SaveEvents(ctx, "order-2", s.newOrderEvents("order-2"), 0))

	page, err := s.store.GetAllEvents(ctx, 0, 3)
	s.Require().NoError(err)
	s.Require().Len(page, 3)

	rest, err := s.store.GetAllEvents(ctx, LastPosition(page, 0), 10)
	s.Require().NoError(err)
	s.Len(rest, 1)

	created, err := s.store.GetEventsByType(ctx, domain.OrderCreatedType, 0, 10)
	s.Require().NoError(err)
	s.Len(created, 2)

	pending, err := s.store.GetUnpublishedEvents(ctx, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 4)

	s.Require().NoError(s.store.MarkEventsPublished(ctx, []string{pending[0].Event.EventID}))
	pending, err = s.store.GetUnpublishedEvents(ctx, time.Now().Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Len(pending, 3)
}

func (s *GormStoreSuite) TestSnapshots() {
	ctx := context.Background()

	for _, v := range []int{2, 4} {
		s.Require().NoError(s.store.SaveSnapshot(ctx, Snapshot{
			AggregateID:   "order-1",
			AggregateType: domain.OrderAggregateType,
			Version:       v,
			State:         []byte(`{"status":"pending"}`),
		}))
	}
	// same version twice keeps one row
	s.Require().NoError(s.store.SaveSnapshot(ctx, Snapshot{AggregateID: "order-1", Version: 4, State: []byte(`{"status":"paid"}`)}))

	snap, err := s.store.GetLatestSnapshot(ctx, "order-1", 3)
	s.Require().NoError(err)
	s.Equal(2, snap.Version)

	snap, err = s.store.GetLatestSnapshot(ctx, "order-1", LatestVersion)
	s.Require().NoError(err)
	s.Equal(4, snap.Version)
	s.JSONEq(`{"status":"paid"}`, string(snap.State))

	snap, err = s.store.GetLatestSnapshot(ctx, "missing", LatestVersion)
	s.Require().NoError(err)
	s.Nil(snap)
}
