package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_ReadModelFollowsEventStoreDriver(t *testing.T) {
	t.Setenv("EVENT_STORE_DRIVER", "")
	t.Setenv("READ_MODEL_DRIVER", "")

	cfg := LoadConfig()
	assert.Equal(t, "sqlite", cfg.EventStoreDriver)
	assert.Equal(t, "sqlite", cfg.ReadModelDriver, "sin override, el read model usa el mismo driver que el event store")

	t.Setenv("EVENT_STORE_DRIVER", "postgres")
	cfg = LoadConfig()
	assert.Equal(t, "postgres", cfg.ReadModelDriver)
}

func TestLoadConfig_ReadModelOverride(t *testing.T) {
	t.Setenv("EVENT_STORE_DRIVER", "postgres")
	t.Setenv("READ_MODEL_DRIVER", "mongodb")

	cfg := LoadConfig()
	assert.Equal(t, "postgres", cfg.EventStoreDriver)
	assert.Equal(t, "mongodb", cfg.ReadModelDriver)
}
