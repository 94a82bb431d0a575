package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/davicafu/bookflow/internal/order/domain"
)

// ViewStore implementa domain.OrderViewStore en MongoDB. La vista y el
// checkpoint se escriben en la misma transacción (requiere replica set).
type ViewStore struct {
	client      *mongo.Client
	views       *mongo.Collection
	checkpoints *mongo.Collection
}

// NewViewStore es el constructor del repositorio.
func NewViewStore(ctx context.Context, client *mongo.Client, dbName string) (*ViewStore, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}
	db := client.Database(dbName)
	return &ViewStore{
		client:      client,
		views:       db.Collection("order_views"),
		checkpoints: db.Collection("projection_checkpoints"),
	}, nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoLineItem struct {
	BookID    string `bson:"bookId"`
	Quantity  int    `bson:"quantity"`
	UnitPrice string `bson:"unitPrice"`
}

type mongoOrderView struct {
	ID         string          `bson:"_id"`
	BuyerID    string          `bson:"buyerId"`
	BasketID   string          `bson:"basketId"`
	BuyerName  string          `bson:"buyerName"`
	BuyerEmail string          `bson:"buyerEmail"`
	Items      []mongoLineItem `bson:"items"`
	Total      string          `bson:"total"`
	Status     string          `bson:"status"`
	Version    int64           `bson:"version"`
	CreatedAt  time.Time       `bson:"createdAt"`
	UpdatedAt  time.Time       `bson:"updatedAt"`
	DeletedAt  *time.Time      `bson:"deletedAt,omitempty"`
}

type mongoCheckpoint struct {
	Projection string    `bson:"_id"`
	Position   int64     `bson:"position"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func toMongo(v *domain.OrderView) mongoOrderView {
	items := make([]mongoLineItem, 0, len(v.Items))
	for _, it := range v.Items {
		items = append(items, mongoLineItem{BookID: it.BookID.String(), Quantity: it.Quantity, UnitPrice: it.UnitPrice.String()})
	}
	return mongoOrderView{
		ID:         v.ID.String(),
		BuyerID:    v.BuyerID.String(),
		BasketID:   v.BasketID.String(),
		BuyerName:  v.BuyerName,
		BuyerEmail: v.BuyerEmail,
		Items:      items,
		Total:      v.Total.String(),
		Status:     string(v.Status),
		Version:    v.Version,
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
		DeletedAt:  v.DeletedAt,
	}
}

func fromMongo(m mongoOrderView) (*domain.OrderView, error) {
	var err error
	v := &domain.OrderView{
		BuyerName:  m.BuyerName,
		BuyerEmail: m.BuyerEmail,
		Status:     domain.Status(m.Status),
		Version:    m.Version,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		DeletedAt:  m.DeletedAt,
	}
	if v.ID, err = uuid.Parse(m.ID); err != nil {
		return nil, err
	}
	if v.BuyerID, err = uuid.Parse(m.BuyerID); err != nil {
		return nil, err
	}
	if v.BasketID, err = uuid.Parse(m.BasketID); err != nil {
		return nil, err
	}
	if v.Total, err = decimal.NewFromString(m.Total); err != nil {
		return nil, err
	}
	for _, it := range m.Items {
		bookID, err := uuid.Parse(it.BookID)
		if err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, err
		}
		v.Items = append(v.Items, domain.LineItem{BookID: bookID, Quantity: it.Quantity, UnitPrice: price})
	}
	return v, nil
}

func (s *ViewStore) Get(ctx context.Context, id uuid.UUID) (*domain.OrderView, error) {
	var m mongoOrderView
	err := s.views.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromMongo(m)
}

func (s *ViewStore) Checkpoint(ctx context.Context, projection string) (int64, error) {
	var cp mongoCheckpoint
	err := s.checkpoints.FindOne(ctx, bson.M{"_id": projection}).Decode(&cp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	return cp.Position, err
}

func (s *ViewStore) Save(ctx context.Context, projection string, globalSeq int64, v *domain.OrderView) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		pos, err := s.Checkpoint(sessCtx, projection)
		if err != nil {
			return nil, err
		}
		if globalSeq <= pos {
			return nil, nil
		}

		upsert := options.Replace().SetUpsert(true)
		if _, err := s.views.ReplaceOne(sessCtx, bson.M{"_id": v.ID.String()}, toMongo(v), upsert); err != nil {
			return nil, fmt.Errorf("upsert order view: %w", err)
		}

		_, err = s.checkpoints.UpdateOne(sessCtx,
			bson.M{"_id": projection},
			bson.M{"$set": bson.M{"position": globalSeq, "updatedAt": time.Now().UTC()}},
			options.Update().SetUpsert(true),
		)
		return nil, err
	})
	return err
}

func (s *ViewStore) Reset(ctx context.Context, projection string) error {
	if _, err := s.views.DeleteMany(ctx, bson.M{}); err != nil {
		return err
	}
	_, err := s.checkpoints.DeleteOne(ctx, bson.M{"_id": projection})
	return err
}

var _ domain.OrderViewStore = (*ViewStore)(nil)
