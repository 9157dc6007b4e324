package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplied-app/supplied/internal/auth"
	"github.com/supplied-app/supplied/internal/cloud"
	"github.com/supplied-app/supplied/internal/logging"
	"github.com/supplied-app/supplied/internal/models"
)

// State names the listener's position in its subscription lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateSubscribing  State = "subscribing"
	StateSubscribed   State = "subscribed"
)

const maxErrorHistory = 10

// Applier is the slice of the local store the listener writes through.
// Changes land via upserts and deletes only, never via the sync engine,
// so an applied remote change can never echo back out as a new sync.
type Applier interface {
	PutBuilding(b models.Building) error
	DeleteBuilding(id string) (bool, error)
	PutSupplyItem(item models.SupplyItem) error
	DeleteSupplyItem(id string) (bool, error)
	PutBuyingItem(item models.BuyingItem) error
	DeleteBuyingItem(id string) (bool, error)
}

// ChangeEvent is the notification fanned out to registered listeners
// for each change arriving over the feed. It is broadcast before the
// change lands in the local store and carries the raw row so observers
// see exactly what the feed delivered. Data holds the new row, or the
// old row for deletions.
type ChangeEvent struct {
	Table     string
	Event     EventType
	Data      json.RawMessage
	Timestamp time.Time
}

// Listener subscribes to the hosted store's change feed while a user is
// signed in and applies each owned row change to the local store. Rows
// owned by other users, and item rows whose parent building is unknown
// locally, are discarded.
type Listener struct {
	subscriber Subscriber
	store      Applier
	auth       *auth.Signal
	log        *logrus.Entry

	mu        sync.Mutex
	state     State
	userID    string
	cancel    context.CancelFunc
	errors    []string
	buildings map[string]string // remote building id -> local id
	listeners map[int]func(ChangeEvent)
	nextID    int

	unsubscribeAuth func()
}

// NewListener wires the listener to its change feed, local store, and
// authentication signal.
func NewListener(subscriber Subscriber, store Applier, sig *auth.Signal, log *logrus.Logger) *Listener {
	return &Listener{
		subscriber: subscriber,
		store:      store,
		auth:       sig,
		log:        logging.Component(log, "realtime"),
		state:      StateDisconnected,
		buildings:  make(map[string]string),
		listeners:  make(map[int]func(ChangeEvent)),
	}
}

// Start begins following authentication transitions: signing in opens
// the subscription, signing out tears it down.
func (l *Listener) Start() {
	l.unsubscribeAuth = l.auth.Subscribe(func(state auth.State) {
		if state.IsAuthenticated {
			l.subscribe(state.UserID)
		} else {
			l.teardown()
		}
	})
}

// Stop tears the subscription down and stops following auth changes.
func (l *Listener) Stop() {
	if l.unsubscribeAuth != nil {
		l.unsubscribeAuth()
		l.unsubscribeAuth = nil
	}
	l.teardown()
}

func (l *Listener) subscribe(userID string) {
	l.mu.Lock()
	if l.state != StateDisconnected && l.userID == userID {
		l.mu.Unlock()
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.state = StateSubscribing
	l.userID = userID
	l.mu.Unlock()

	feed, err := l.subscriber.Subscribe(ctx, userID)
	if err != nil {
		l.mu.Lock()
		l.state = StateDisconnected
		l.pushError(fmt.Sprintf("subscription failed: %v", err))
		l.mu.Unlock()
		l.log.WithError(err).Error("failed to open change feed")
		return
	}

	l.mu.Lock()
	l.state = StateSubscribed
	l.mu.Unlock()
	l.log.WithField("user_id", userID).Info("change feed subscribed")

	go l.run(ctx, feed)
}

func (l *Listener) teardown() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.state = StateDisconnected
	l.userID = ""
	l.buildings = make(map[string]string)
	l.mu.Unlock()
}

func (l *Listener) run(ctx context.Context, feed <-chan Message) {
	for {
		select {
		case msg, ok := <-feed:
			if !ok {
				l.mu.Lock()
				if l.state == StateSubscribed {
					l.state = StateDisconnected
				}
				l.mu.Unlock()
				return
			}
			l.apply(msg)
		case <-ctx.Done():
			return
		}
	}
}

// RegisterBuildingMapping records which local building a remote row
// belongs to. The sync engine feeds this after pushes and pulls so item
// changes arriving over the feed can be attributed.
func (l *Listener) RegisterBuildingMapping(remoteID, localID string) {
	if remoteID == "" || localID == "" {
		return
	}
	l.mu.Lock()
	l.buildings[remoteID] = localID
	l.mu.Unlock()
}

// AddChangeListener registers fn for feed-change notifications and
// returns an unsubscribe function. A panicking listener is logged and
// skipped; it never disturbs the others or the feed.
func (l *Listener) AddChangeListener(fn func(ChangeEvent)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// State returns the current subscription state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Errors returns the rolling history of apply failures.
func (l *Listener) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	errs := make([]string, len(l.errors))
	copy(errs, l.errors)
	return errs
}

// pushError appends to the rolling error history. Callers hold l.mu.
func (l *Listener) pushError(msg string) {
	l.errors = append(l.errors, msg)
	if len(l.errors) > maxErrorHistory {
		l.errors = l.errors[len(l.errors)-maxErrorHistory:]
	}
}

func (l *Listener) apply(msg Message) {
	switch msg.Table {
	case cloud.TableBuildings, cloud.TableSupplyItems, cloud.TableBuyingItems:
	default:
		l.log.WithField("table", msg.Table).Debug("ignoring change for unknown table")
		return
	}

	// Observers hear about the change in feed order, before it lands
	// locally. The feed is already filtered to the signed-in user.
	data := msg.New
	if msg.Event == EventDelete {
		data = msg.Old
	}
	l.notify(ChangeEvent{Table: msg.Table, Event: msg.Event, Data: data, Timestamp: time.Now().UTC()})

	var err error
	switch msg.Table {
	case cloud.TableBuildings:
		err = l.applyBuilding(msg)
	case cloud.TableSupplyItems:
		err = l.applySupplyItem(msg)
	case cloud.TableBuyingItems:
		err = l.applyBuyingItem(msg)
	}

	if err != nil {
		l.mu.Lock()
		l.pushError(fmt.Sprintf("%s %s: %v", msg.Event, msg.Table, err))
		l.mu.Unlock()
		l.log.WithError(err).WithFields(logrus.Fields{
			"table": msg.Table,
			"event": msg.Event,
		}).Warn("failed to apply remote change")
	}
}

func (l *Listener) notify(event ChangeEvent) {
	l.mu.Lock()
	fns := make([]func(ChangeEvent), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.WithField("panic", r).Error("change listener panicked")
				}
			}()
			fn(event)
		}()
	}
}

// applyBuilding upserts or deletes a building row. Rows owned by a
// different user are discarded silently.
func (l *Listener) applyBuilding(msg Message) error {
	if msg.Event == EventDelete {
		var old models.CloudBuilding
		if err := json.Unmarshal(msg.Old, &old); err != nil {
			return err
		}
		localID := l.localBuildingID(old)
		if localID == "" {
			return nil
		}
		l.mu.Lock()
		delete(l.buildings, old.ID)
		l.mu.Unlock()
		_, err := l.store.DeleteBuilding(localID)
		return err
	}

	var row models.CloudBuilding
	if err := json.Unmarshal(msg.New, &row); err != nil {
		return err
	}
	l.mu.Lock()
	owner := l.userID
	l.mu.Unlock()
	if row.UserID != owner {
		return nil
	}

	l.RegisterBuildingMapping(row.ID, row.LocalID)
	return l.store.PutBuilding(row.ToLocal())
}

func (l *Listener) applySupplyItem(msg Message) error {
	if msg.Event == EventDelete {
		var old models.CloudSupplyItem
		if err := json.Unmarshal(msg.Old, &old); err != nil {
			return err
		}
		if old.LocalID == "" {
			return nil
		}
		_, err := l.store.DeleteSupplyItem(old.LocalID)
		return err
	}

	var row models.CloudSupplyItem
	if err := json.Unmarshal(msg.New, &row); err != nil {
		return err
	}
	localBuilding := l.lookupBuilding(row.BuildingID)
	if localBuilding == "" {
		l.log.WithField("building_id", row.BuildingID).Debug("discarding item for unknown building")
		return nil
	}
	return l.store.PutSupplyItem(row.ToLocal(localBuilding))
}

func (l *Listener) applyBuyingItem(msg Message) error {
	if msg.Event == EventDelete {
		var old models.CloudBuyingItem
		if err := json.Unmarshal(msg.Old, &old); err != nil {
			return err
		}
		if old.LocalID == "" {
			return nil
		}
		_, err := l.store.DeleteBuyingItem(old.LocalID)
		return err
	}

	var row models.CloudBuyingItem
	if err := json.Unmarshal(msg.New, &row); err != nil {
		return err
	}
	var localBuilding string
	if row.BuildingID != "" {
		localBuilding = l.lookupBuilding(row.BuildingID)
		if localBuilding == "" {
			l.log.WithField("building_id", row.BuildingID).Debug("discarding item for unknown building")
			return nil
		}
	}
	return l.store.PutBuyingItem(row.ToLocal(localBuilding))
}

func (l *Listener) lookupBuilding(remoteID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buildings[remoteID]
}

func (l *Listener) localBuildingID(row models.CloudBuilding) string {
	if row.LocalID != "" {
		return row.LocalID
	}
	return l.lookupBuilding(row.ID)
}
