package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ProductReadRepoMongoDB implementa ProductReadRepository sobre MongoDB.
// ProductView ya lleva tags de BSON, así que el mapeo es directo.
type ProductReadRepoMongoDB struct {
	coll *mongo.Collection
}

func NewProductReadRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*ProductReadRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}
	return &ProductReadRepoMongoDB{
		coll: client.Database(dbName).Collection("product_views"),
	}, nil
}

var _ catalogDomain.ProductReadRepository = (*ProductReadRepoMongoDB)(nil)

// Upsert con guardia de versión: el filtro exige versión menor que la
// entrante (o documento inexistente), de forma que re-aplicar un evento
// antiguo no toca la vista.
func (r *ProductReadRepoMongoDB) Upsert(ctx context.Context, view catalogDomain.ProductView) error {
	filter := bson.M{
		"_id":     view.ID,
		"version": bson.M{"$lt": view.Version},
	}
	update := bson.M{"$set": view}

	_, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// Un duplicado de _id significa que el filtro de versión descartó la
		// escritura pero el upsert intentó insertar: evento antiguo, no-op.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to upsert product view: %w", err)
	}
	return nil
}

func (r *ProductReadRepoMongoDB) GetByID(ctx context.Context, id uuid.UUID) (*catalogDomain.ProductView, error) {
	var v catalogDomain.ProductView
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, catalogDomain.ErrProductNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *ProductReadRepoMongoDB) GetBySKU(ctx context.Context, sku string) (*catalogDomain.ProductView, error) {
	var v catalogDomain.ProductView
	err := r.coll.FindOne(ctx, bson.M{"sku": sku}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, catalogDomain.ErrProductNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (r *ProductReadRepoMongoDB) List(ctx context.Context, criteria sharedDomain.Criteria, pag sharedDomain.Pagination, sort sharedDomain.Sort) ([]catalogDomain.ProductView, int64, error) {
	filter := criteriaToMongoFilter(criteria)

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSkip(int64(pag.Offset)).
		SetLimit(int64(pag.Limit))

	if sort.Field != "" {
		sortDir := 1
		if sort.Desc {
			sortDir = -1
		}
		opts.SetSort(bson.D{{Key: sort.Field, Value: sortDir}})
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var views []catalogDomain.ProductView
	for cursor.Next(ctx) {
		var v catalogDomain.ProductView
		if err := cursor.Decode(&v); err != nil {
			return nil, 0, err
		}
		views = append(views, v)
	}
	return views, total, cursor.Err()
}

// criteriaToMongoFilter mapea operadores genéricos a operadores de MongoDB.
func criteriaToMongoFilter(criteria sharedDomain.Criteria) bson.D {
	if criteria == nil {
		return bson.D{}
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return bson.D{}
	}

	filter := bson.D{}
	for _, c := range conds {
		var mongoOp string
		switch c.Op {
		case sharedDomain.OpEq:
			mongoOp = "$eq"
		case sharedDomain.OpNeq:
			mongoOp = "$ne"
		case sharedDomain.OpGt:
			mongoOp = "$gt"
		case sharedDomain.OpGte:
			mongoOp = "$gte"
		case sharedDomain.OpLt:
			mongoOp = "$lt"
		case sharedDomain.OpLte:
			mongoOp = "$lte"
		case sharedDomain.OpLike, sharedDomain.OpILike:
			mongoOp = "$regex"
		default:
			mongoOp = "$eq"
		}

		if c.Op == sharedDomain.OpILike {
			filter = append(filter, bson.E{Key: c.Field, Value: bson.M{mongoOp: strings.Trim(c.Value.(string), "%"), "$options": "i"}})
		} else {
			filter = append(filter, bson.E{Key: c.Field, Value: bson.M{mongoOp: c.Value}})
		}
	}
	return filter
}
