package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/hamdam-go/internal/runtime"
)

// RuntimePinger checks the inference server with its cheapest endpoint, so
// readiness checks never spend tokens.
type RuntimePinger struct {
	rt runtime.Runtime
}

// NewRuntimePinger constructs a RuntimePinger for rt.
func NewRuntimePinger(rt runtime.Runtime) *RuntimePinger {
	return &RuntimePinger{rt: rt}
}

// Name returns the backend label used in readiness responses (e.g. "ollama").
func (p *RuntimePinger) Name() string { return string(p.rt.Backend()) }

// Ping calls the runtime's version or model listing endpoint.
func (p *RuntimePinger) Ping(ctx context.Context) error {
	if err := p.rt.Ping(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.Name(), err)
	}
	return nil
}

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to check.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
