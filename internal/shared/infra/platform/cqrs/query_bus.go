package cqrs

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ResultSource indica de dónde salió el dato de una query.
type ResultSource string

const (
	SourceCache    ResultSource = "cache"
	SourceDatabase ResultSource = "database"
)

// Query es el contrato mínimo de una consulta. CacheKey debe ser determinista
// sobre los parámetros normalizados de la query: la misma consulta produce
// siempre la misma clave.
type Query interface {
	QueryType() string
	CacheKey() string
	Validate() error
}

// QueryResult envuelve el dato con metadatos de procedencia o un error tipado.
type QueryResult struct {
	Data     interface{}   `json:"data,omitempty"`
	Metadata QueryMetadata `json:"metadata"`
	Error    *ErrorInfo    `json:"error,omitempty"`
}

type QueryMetadata struct {
	Source ResultSource `json:"source,omitempty"`
}

// QueryHandler resuelve un tipo de query. El handler hace el cache-aside con
// destinos tipados (lee de caché con la clave de la query; en miss consulta el
// read model y puebla la caché con TTL acotado) y reporta la procedencia.
type QueryHandler interface {
	Handle(ctx context.Context, q Query) (data interface{}, source ResultSource, err error)
}

// QueryBus enruta cada query a su handler por tipo, con registro explícito
// construido en el arranque, igual que el CommandBus.
type QueryBus struct {
	handlers map[string]QueryHandler
	log      *zap.Logger
}

func NewQueryBus(log *zap.Logger) *QueryBus {
	return &QueryBus{
		handlers: make(map[string]QueryHandler),
		log:      log,
	}
}

func (b *QueryBus) Register(queryType string, h QueryHandler) error {
	if _, exists := b.handlers[queryType]; exists {
		return fmt.Errorf("query handler already registered for type %q", queryType)
	}
	b.handlers[queryType] = h
	return nil
}

// Execute valida la query, la enruta y traduce cualquier error a la taxonomía
// NOT_FOUND | VALIDATION_ERROR | PERMISSION_DENIED | INTERNAL_ERROR. Los
// handlers nunca propagan excepciones crudas a través del bus.
func (b *QueryBus) Execute(ctx context.Context, q Query) QueryResult {
	handler, ok := b.handlers[q.QueryType()]
	if !ok {
		b.log.Error("No handler registered for query type",
			zap.String("query_type", q.QueryType()))
		return QueryResult{
			Error: &ErrorInfo{
				Code:    CodeUnknownQuery,
				Message: fmt.Sprintf("no handler registered for query type %q", q.QueryType()),
			},
		}
	}

	if err := q.Validate(); err != nil {
		return QueryResult{Error: classifyError(err)}
	}

	data, source, err := handler.Handle(ctx, q)
	if err != nil {
		info := classifyError(err)
		if info.Code == CodeInternalError {
			b.log.Error("Query failed with internal error",
				zap.String("query_type", q.QueryType()),
				zap.Error(err),
			)
		}
		return QueryResult{Error: info}
	}

	return QueryResult{
		Data:     data,
		Metadata: QueryMetadata{Source: source},
	}
}
