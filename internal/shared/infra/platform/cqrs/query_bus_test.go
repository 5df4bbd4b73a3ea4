package cqrs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQuery struct {
	validateErr error
}

func (q fakeQuery) QueryType() string { return "test.fake_query" }
func (q fakeQuery) CacheKey() string  { return "test:fake" }
func (q fakeQuery) Validate() error   { return q.validateErr }

type fakeQueryHandler struct {
	data   interface{}
	source ResultSource
	err    error
}

func (h *fakeQueryHandler) Handle(ctx context.Context, q Query) (interface{}, ResultSource, error) {
	return h.data, h.source, h.err
}

func TestQueryBus_ReturnsDataWithSource(t *testing.T) {
	bus := NewQueryBus(zap.NewNop())
	require.NoError(t, bus.Register("test.fake_query", &fakeQueryHandler{data: "hola", source: SourceCache}))

	result := bus.Execute(context.Background(), fakeQuery{})

	assert.Nil(t, result.Error)
	assert.Equal(t, "hola", result.Data)
	assert.Equal(t, SourceCache, result.Metadata.Source)
}

func TestQueryBus_UnknownQueryType(t *testing.T) {
	bus := NewQueryBus(zap.NewNop())

	result := bus.Execute(context.Background(), fakeQuery{})

	require.NotNil(t, result.Error)
	assert.Equal(t, CodeUnknownQuery, result.Error.Code)
}

func TestQueryBus_ValidationError(t *testing.T) {
	bus := NewQueryBus(zap.NewNop())
	handler := &fakeQueryHandler{data: "nunca"}
	require.NoError(t, bus.Register("test.fake_query", handler))

	q := fakeQuery{validateErr: &sharedDomain.ValidationError{Field: "limit", Message: "must not be negative"}}
	result := bus.Execute(context.Background(), q)

	require.NotNil(t, result.Error)
	assert.Equal(t, CodeValidationError, result.Error.Code)
	assert.Nil(t, result.Data)
}

func TestQueryBus_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"not found", fmt.Errorf("product %w", sharedDomain.ErrNotFound), CodeNotFound},
		{"permission denied", sharedDomain.ErrPermissionDenied, CodePermissionDenied},
		{"infra opaca", errors.New("redis: connection pool timeout"), CodeInternalError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bus := NewQueryBus(zap.NewNop())
			require.NoError(t, bus.Register("test.fake_query", &fakeQueryHandler{err: tc.err}))

			result := bus.Execute(context.Background(), fakeQuery{})

			require.NotNil(t, result.Error)
			assert.Equal(t, tc.code, result.Error.Code)
		})
	}
}
