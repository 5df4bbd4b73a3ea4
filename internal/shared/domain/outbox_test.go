package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_NextDelayIsExponential(t *testing.T) {
	p := RetryPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		MaxRetries:   5,
	}

	assert.Equal(t, 1*time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(1))
	assert.Equal(t, 4*time.Second, p.NextDelay(2))
	assert.Equal(t, 8*time.Second, p.NextDelay(3))
}

func TestRetryPolicy_NextDelayIsCapped(t *testing.T) {
	p := DefaultRetryPolicy()

	// 2^20 segundos supera con creces el tope de 5 minutos.
	assert.Equal(t, p.MaxDelay, p.NextDelay(20))

	// El backoff nunca decrece entre reintentos consecutivos.
	prev := time.Duration(0)
	for i := 0; i < 15; i++ {
		d := p.NextDelay(i)
		assert.GreaterOrEqual(t, d, prev, "el delay del intento %d retrocedió", i)
		prev = d
	}
}

func TestRetryPolicy_OverflowFallsBackToMaxDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	// Con exponentes enormes el producto desborda; el resultado debe seguir
	// siendo el tope, jamás un valor negativo.
	assert.Equal(t, p.MaxDelay, p.NextDelay(500))
}

func TestOutboxEvent_Exhausted(t *testing.T) {
	evt := OutboxEvent{Status: OutboxFailed, RetryCount: 5, MaxRetries: 5}
	assert.True(t, evt.Exhausted())

	evt.RetryCount = 4
	assert.False(t, evt.Exhausted())

	// Una fila PENDING nunca está agotada, aunque acumule reintentos.
	evt = OutboxEvent{Status: OutboxPending, RetryCount: 9, MaxRetries: 5}
	assert.False(t, evt.Exhausted())
}
