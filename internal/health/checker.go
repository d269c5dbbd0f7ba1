// Package health periodically probes the RPC endpoint pool and the
// websocket listener and exposes a liveness/readiness status list for
// internal/snapshot's /health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/endpoint"
)

// Status represents the health status of a component.
type Status struct {
	Name    string
	Healthy bool
	Latency time.Duration
	Error   string
}

// ListenerState is queried by the checker to report the listener's current
// connectivity, without the health package importing internal/listener
// directly (the listener owns its own dial/reconnect state).
type ListenerState interface {
	Connected() bool
}

// Checker periodically checks health of the endpoint pool and the listener.
type Checker struct {
	mu       sync.RWMutex
	statuses []Status

	rpc      *blockchain.RPCClient
	pool     *endpoint.Pool
	listener ListenerState
}

// NewChecker creates a new health checker over the RPC endpoint pool and
// the listener's connectivity state.
func NewChecker(rpc *blockchain.RPCClient, pool *endpoint.Pool, listener ListenerState) *Checker {
	return &Checker{
		rpc:      rpc,
		pool:     pool,
		listener: listener,
	}
}

// Start begins periodic health checks every 10s until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()

	c.check(ctx)
}

func (c *Checker) check(ctx context.Context) {
	statuses := []Status{c.checkRPC(ctx), c.checkListener()}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

func (c *Checker) checkRPC(ctx context.Context) Status {
	start := time.Now()
	latencyMs := c.rpc.LatencyMs(ctx)
	latency := time.Since(start)

	name := "rpc_endpoint_pool"
	if ep := c.pool.Current(); ep != nil {
		name = "rpc:" + ep.MaskedURL()
	}

	status := Status{Name: name, Latency: latency, Healthy: latencyMs >= 0}
	if latencyMs < 0 {
		status.Error = "all endpoints in the pool failed getLatestBlockhash"
	}
	return status
}

func (c *Checker) checkListener() Status {
	if c.listener == nil {
		return Status{Name: "listener", Healthy: false, Error: "not wired"}
	}
	connected := c.listener.Connected()
	status := Status{Name: "listener", Healthy: connected}
	if !connected {
		status.Error = "websocket disconnected, reconnect loop running"
	}
	return status
}

// GetStatuses returns the current health statuses.
func (c *Checker) GetStatuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statuses
}

// Ready reports whether every tracked component is currently healthy.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.statuses) == 0 {
		return false
	}
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
