package application

import (
	"context"
	"encoding/json"

	"github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductRepository carga y persiste el agregado contra el event store,
// usando snapshots para acortar el replay de streams largos.
type ProductRepository struct {
	store  sharedDomain.EventStore
	policy sharedDomain.SnapshotPolicy
	log    *zap.Logger
}

func NewProductRepository(store sharedDomain.EventStore, policy sharedDomain.SnapshotPolicy, log *zap.Logger) *ProductRepository {
	return &ProductRepository{store: store, policy: policy, log: log}
}

// Load reconstruye el agregado: snapshot más reciente (si existe) + eventos
// posteriores. Un stream vacío sin snapshot es ErrProductNotFound.
func (r *ProductRepository) Load(ctx context.Context, id uuid.UUID) (*domain.ProductAggregate, error) {
	snap, err := r.store.LatestSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	fromVersion := int64(0)
	if snap != nil {
		fromVersion = snap.Version
	}

	events, err := r.store.ReadStream(ctx, id, fromVersion)
	if err != nil {
		return nil, err
	}

	if snap == nil {
		if len(events) == 0 {
			return nil, domain.ErrProductNotFound
		}
		return domain.FromEvents(id, events)
	}
	return domain.FromSnapshot(id, *snap, events)
}

// Save persiste los eventos sin confirmar con control de concurrencia
// optimista y, si toca por política, guarda un snapshot. El snapshot es
// best-effort: su fallo se loguea pero nunca hace fallar al comando.
func (r *ProductRepository) Save(ctx context.Context, agg *domain.ProductAggregate) error {
	if !agg.HasUncommittedEvents() {
		return nil
	}

	events := agg.UncommittedEvents()
	expectedVersion := events[0].Version - 1

	newVersion, err := r.store.Append(ctx, agg.ID(), agg.AggregateType(), expectedVersion, events, domain.ProductTopic)
	if err != nil {
		return err
	}
	agg.MarkEventsAsCommitted()

	if r.policy.ShouldSnapshot(newVersion) {
		r.saveSnapshot(ctx, agg, newVersion)
	}
	return nil
}

func (r *ProductRepository) saveSnapshot(ctx context.Context, agg *domain.ProductAggregate, version int64) {
	state, err := json.Marshal(agg.State())
	if err != nil {
		r.log.Warn("⚠️ No se pudo serializar snapshot", zap.String("aggregate_id", agg.ID().String()), zap.Error(err))
		return
	}

	snap := sharedDomain.Snapshot{
		AggregateID:   agg.ID(),
		AggregateType: agg.AggregateType(),
		Version:       version,
		State:         state,
	}
	if err := r.store.SaveSnapshot(ctx, snap); err != nil {
		r.log.Warn("⚠️ No se pudo guardar snapshot", zap.String("aggregate_id", agg.ID().String()), zap.Int64("version", version), zap.Error(err))
	}
}
