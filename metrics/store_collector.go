package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-outbox/clock"
	"github.com/marcelsud/webhook-outbox/webhook"
)

// EventStore is the part of the repository the collector reads
type EventStore interface {
	CountByStatus(ctx context.Context) (map[webhook.Status]int, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
}

// ClientCounter reports connected admin sessions
type ClientCounter interface {
	ClientCount() int
}

// ClientCounterFunc adapts a function to ClientCounter
type ClientCounterFunc func() int

func (f ClientCounterFunc) ClientCount() int {
	return f()
}

// InstanceLister lists live scheduler instances
type InstanceLister func(ctx context.Context) ([]InstanceInfo, error)

// StoreCollector implements the Collector interface over the event store and hub
type StoreCollector struct {
	store     EventStore
	clients   ClientCounter
	instances InstanceLister
	clock     clock.Clock
}

// NewStoreCollector creates a collector; clients and instances may be nil
func NewStoreCollector(store EventStore, clients ClientCounter, instances InstanceLister, clk clock.Clock) *StoreCollector {
	if clk == nil {
		clk = clock.Real()
	}
	return &StoreCollector{
		store:     store,
		clients:   clients,
		instances: instances,
		clock:     clk,
	}
}

// Collect gathers all metrics
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	backlog, err := c.GetDueBacklog(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting due backlog: %w", err)
	}

	clients, err := c.GetConnectedClients(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting connected clients: %w", err)
	}

	instances, err := c.GetActiveInstances(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting active instances: %w", err)
	}

	return Metrics{
		StatusCounts:     statusCounts,
		DueBacklog:       backlog,
		ConnectedClients: clients,
		Instances:        instances,
		Timestamp:        c.clock.Now(),
	}, nil
}

// GetStatusCounts returns counts of webhook events grouped by status
func (c *StoreCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	statusCounts := make(map[string]int64, 5)
	for _, s := range webhook.Statuses() {
		statusCounts[s.String()] = 0
	}

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting events by status: %w", err)
	}
	for status, n := range counts {
		if status.Validate() != nil {
			continue
		}
		statusCounts[status.String()] = int64(n)
	}
	return statusCounts, nil
}

// GetDueBacklog returns the number of events due now
func (c *StoreCollector) GetDueBacklog(ctx context.Context) (int64, error) {
	n, err := c.store.CountDue(ctx, c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("counting due events: %w", err)
	}
	return int64(n), nil
}

// GetConnectedClients returns the hub's client count
func (c *StoreCollector) GetConnectedClients(_ context.Context) (int64, error) {
	if c.clients == nil {
		return 0, nil
	}
	return int64(c.clients.ClientCount()), nil
}

// GetActiveInstances returns live scheduler instances
func (c *StoreCollector) GetActiveInstances(ctx context.Context) ([]InstanceInfo, error) {
	if c.instances == nil {
		return []InstanceInfo{}, nil
	}
	return c.instances(ctx)
}
