// Package queue holds mutations made while offline and replays them
// against the hosted store once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplied-app/supplied/internal/logging"
	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/uuid"
)

const (
	queueFile         = "offline_queue.json"
	defaultMaxRetries = 3
	defaultDrainDelay = 100 * time.Millisecond
	maxErrorHistory   = 10
)

// Dispatcher replays one queued operation against the hosted store.
// A returned error counts as one failed attempt for that entry.
type Dispatcher interface {
	Dispatch(ctx context.Context, op models.QueuedOperation) error
}

// Options tune queue behavior. Zero values select the defaults.
type Options struct {
	// DrainDelay is the pause between consecutive entries during a
	// drain, keeping replay from hammering the remote endpoint.
	DrainDelay time.Duration
	// MaxRetries is the attempt budget per entry before it is dropped.
	MaxRetries int
}

// Queue is a durable FIFO of pending remote mutations. Every change is
// written back to disk wholesale, so a crash never loses accepted
// entries. Entries survive retries in place; an entry that exhausts its
// attempt budget is dropped and its failure recorded exactly once.
type Queue struct {
	mu         sync.Mutex
	ops        []models.QueuedOperation
	errors     []string
	path       string
	dispatcher Dispatcher
	log        *logrus.Entry
	online     bool
	draining   bool
	drainDelay time.Duration
	maxRetries int
}

// New loads (or creates) the queue persisted under dir. A corrupt
// snapshot is logged and discarded rather than blocking startup.
func New(dir string, dispatcher Dispatcher, log *logrus.Logger, opts Options) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	if opts.DrainDelay == 0 {
		opts.DrainDelay = defaultDrainDelay
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	q := &Queue{
		path:       filepath.Join(dir, queueFile),
		dispatcher: dispatcher,
		log:        logging.Component(log, "queue"),
		drainDelay: opts.DrainDelay,
		maxRetries: opts.MaxRetries,
	}
	q.load()
	return q, nil
}

func (q *Queue) load() {
	raw, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		q.log.WithError(err).Warn("failed to read queue snapshot, starting empty")
		return
	}
	var ops []models.QueuedOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		q.log.WithError(err).Warn("queue snapshot corrupt, starting empty")
		return
	}
	q.ops = ops
	if len(ops) > 0 {
		q.log.WithField("pending", len(ops)).Info("restored offline queue")
	}
}

// persist writes the whole queue to disk. Callers hold q.mu.
func (q *Queue) persist() {
	raw, err := json.MarshalIndent(q.ops, "", "  ")
	if err != nil {
		q.log.WithError(err).Error("failed to encode queue snapshot")
		return
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		q.log.WithError(err).Error("failed to write queue snapshot")
		return
	}
	if err := os.Rename(tmp, q.path); err != nil {
		q.log.WithError(err).Error("failed to replace queue snapshot")
	}
}

// EnqueueBuilding queues a create or update of a building.
func (q *Queue) EnqueueBuilding(opType models.OperationType, b models.Building) models.QueuedOperation {
	return q.enqueue(models.QueuedOperation{
		Type:     opType,
		Entity:   models.EntityBuilding,
		EntityID: b.ID,
		Data:     &models.OperationData{Building: &b},
	})
}

// EnqueueSupplyItem queues a create or update of a supply item.
func (q *Queue) EnqueueSupplyItem(opType models.OperationType, item models.SupplyItem) models.QueuedOperation {
	return q.enqueue(models.QueuedOperation{
		Type:       opType,
		Entity:     models.EntitySupplyItem,
		EntityID:   item.ID,
		BuildingID: item.BuildingID,
		Data:       &models.OperationData{SupplyItem: &item},
	})
}

// EnqueueBuyingItem queues a create or update of a buying item.
func (q *Queue) EnqueueBuyingItem(opType models.OperationType, item models.BuyingItem) models.QueuedOperation {
	return q.enqueue(models.QueuedOperation{
		Type:       opType,
		Entity:     models.EntityBuyingItem,
		EntityID:   item.ID,
		BuildingID: item.BuildingID,
		Data:       &models.OperationData{BuyingItem: &item},
	})
}

// EnqueueDelete queues a deletion by entity id.
func (q *Queue) EnqueueDelete(entity models.EntityType, entityID, buildingID string) models.QueuedOperation {
	return q.enqueue(models.QueuedOperation{
		Type:       models.OperationDelete,
		Entity:     entity,
		EntityID:   entityID,
		BuildingID: buildingID,
	})
}

func (q *Queue) enqueue(op models.QueuedOperation) models.QueuedOperation {
	op.ID = uuid.New()
	op.Timestamp = time.Now().UTC()
	op.MaxRetries = q.maxRetries

	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.persist()
	online := q.online
	pending := len(q.ops)
	q.mu.Unlock()

	q.log.WithFields(logrus.Fields{
		"op":      op.Type,
		"entity":  op.Entity,
		"pending": pending,
	}).Debug("operation queued")

	if online {
		go q.Drain(context.Background())
	}
	return op
}

// SetOnline records connectivity. Coming online triggers an async
// drain of any pending entries.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	pending := len(q.ops)
	q.mu.Unlock()

	if online && !wasOnline && pending > 0 {
		go q.Drain(context.Background())
	}
}

// Drain replays pending entries in insertion order. It is a no-op
// while offline, so entries never burn retry attempts on dispatches
// that cannot reach the remote. Only one drain runs at a time;
// overlapping calls return immediately. A failed entry stays queued
// with its retry count bumped until the budget is spent, then it is
// dropped and its failure recorded. One entry failing never blocks the
// entries behind it.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining || !q.online || len(q.ops) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	snapshot := make([]models.QueuedOperation, len(q.ops))
	copy(snapshot, q.ops)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	q.log.WithField("pending", len(snapshot)).Info("draining offline queue")

	for i, op := range snapshot {
		if i > 0 {
			select {
			case <-time.After(q.drainDelay):
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		err := q.dispatcher.Dispatch(ctx, op)
		if err == nil {
			q.remove(op.ID)
			continue
		}
		q.recordFailure(op.ID, err)
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			q.persist()
			return
		}
	}
}

func (q *Queue) recordFailure(id string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.ops {
		if q.ops[i].ID != id {
			continue
		}
		q.ops[i].RetryCount++
		q.ops[i].Error = err.Error()

		if q.ops[i].RetryCount >= q.ops[i].MaxRetries {
			msg := fmt.Sprintf("%s %s %s failed after %d attempts: %v",
				q.ops[i].Type, q.ops[i].Entity, q.ops[i].EntityID, q.ops[i].RetryCount, err)
			q.pushError(msg)
			q.log.WithFields(logrus.Fields{
				"op":     q.ops[i].Type,
				"entity": q.ops[i].Entity,
				"id":     q.ops[i].EntityID,
			}).Error("operation dropped after exhausting retries")
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
		}
		q.persist()
		return
	}
}

// pushError appends to the rolling error history. Callers hold q.mu.
func (q *Queue) pushError(msg string) {
	q.errors = append(q.errors, msg)
	if len(q.errors) > maxErrorHistory {
		q.errors = q.errors[len(q.errors)-maxErrorHistory:]
	}
}

// RetryFailedOperations resets the retry budget of every pending entry
// and drains. The drain is skipped while offline. Entries already
// dropped are gone; this only revives entries still waiting in the
// queue.
func (q *Queue) RetryFailedOperations(ctx context.Context) {
	q.mu.Lock()
	for i := range q.ops {
		q.ops[i].RetryCount = 0
		q.ops[i].Error = ""
	}
	q.persist()
	q.mu.Unlock()

	q.Drain(ctx)
}

// Operations returns a copy of the pending entries in drain order.
func (q *Queue) Operations() []models.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := make([]models.QueuedOperation, len(q.ops))
	copy(ops, q.ops)
	return ops
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Errors returns the rolling history of dropped-entry failures.
func (q *Queue) Errors() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	errs := make([]string, len(q.errors))
	copy(errs, q.errors)
	return errs
}

// Clear drops every pending entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	q.persist()
}

// ClearErrors resets the rolling error history.
func (q *Queue) ClearErrors() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errors = nil
}
