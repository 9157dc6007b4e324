package models

import "time"

// OperationType classifies a queued mutation.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// EntityType names the entity collection a mutation targets.
type EntityType string

const (
	EntityBuilding   EntityType = "building"
	EntitySupplyItem EntityType = "supply_item"
	EntityBuyingItem EntityType = "buying_item"
)

// OperationData carries the entity payload of a queued create/update.
// Exactly one field is set, selected by the operation's Entity tag, so
// the drain dispatcher matches on concrete types instead of probing an
// untyped map.
type OperationData struct {
	Building   *Building   `json:"building,omitempty"`
	SupplyItem *SupplyItem `json:"supply_item,omitempty"`
	BuyingItem *BuyingItem `json:"buying_item,omitempty"`
}

// QueuedOperation is a pending remote mutation awaiting drain. Entries
// are uniquely keyed by ID (a generated queue id, not the entity id);
// several queued mutations may target the same entity and are drained
// in insertion order without merging.
type QueuedOperation struct {
	ID         string         `json:"id"`
	Type       OperationType  `json:"type"`
	Entity     EntityType     `json:"entity"`
	EntityID   string         `json:"entity_id"`
	BuildingID string         `json:"building_id,omitempty"`
	Data       *OperationData `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	Error      string         `json:"error,omitempty"`
}
