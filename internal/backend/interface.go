package backend

import (
	"context"

	"azukari/internal/amqp"
	"azukari/internal/ports"
	"azukari/internal/services"
)

// CleanupFunc releases the resources of a backend.
type CleanupFunc func() error

// BackendResult bundles the store with the optional event transport.
type BackendResult struct {
	Store ports.Store
	// Publisher is nil when no broker is configured or reachable.
	Publisher services.EventPublisher
	// AMQP is the underlying client, nil together with Publisher.
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	// RequireAMQP turns a broker connection failure into an error instead
	// of a warning.
	RequireAMQP bool
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
