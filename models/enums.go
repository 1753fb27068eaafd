package models

import "errors"

type InventoryRunStatus string

const (
	InventoryRunStatusActive    InventoryRunStatus = "ACTIVE"
	InventoryRunStatusFinalized InventoryRunStatus = "FINALIZED"
	InventoryRunStatusCancelled InventoryRunStatus = "CANCELLED"
)

// SectorCountStatus is derived from the sector count's persisted flags on
// read (see SectorCount.DeriveStatus); it is never stored as its own column,
// so the flags and the status cannot drift apart.
type SectorCountStatus string

const (
	SectorCountStatusPendingAssignment     SectorCountStatus = "PENDING_ASSIGNMENT"
	SectorCountStatusAssigned              SectorCountStatus = "ASSIGNED"
	SectorCountStatusCounting              SectorCountStatus = "COUNTING"
	SectorCountStatusPendingReconciliation SectorCountStatus = "PENDING_RECONCILIATION"
	SectorCountStatusRecounting            SectorCountStatus = "RECOUNTING"
	SectorCountStatusFinalized             SectorCountStatus = "FINALIZED"
)

// CounterSlot identifies which of the two independent counters an entry or
// total belongs to. All slot lookups go through exhaustive switches; there is
// no "counter 3" and no nullable-slot conditionals.
type CounterSlot string

const (
	CounterSlotPrimary   CounterSlot = "PRIMARY"
	CounterSlotSecondary CounterSlot = "SECONDARY"
)

// AllCounterSlots is the fixed iteration order for per-slot aggregation.
var AllCounterSlots = [2]CounterSlot{CounterSlotPrimary, CounterSlotSecondary}

var errInvalidCounterSlot = errors.New("invalid counter slot")

type CounterProgress string

const (
	CounterProgressNotStarted CounterProgress = "NOT_STARTED"
	CounterProgressInProgress CounterProgress = "IN_PROGRESS"
	CounterProgressFinished   CounterProgress = "FINISHED"
)

type CountEntryState string

const (
	CountEntryStateActive     CountEntryState = "ACTIVE"
	CountEntryStateSuperseded CountEntryState = "SUPERSEDED"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "A"
	UserRoleOwner   UserRole = "O"
	UserRoleCounter UserRole = "C"
)

// StockReferenceType tags stock take history rows with their originating
// document type. The reconciliation engine only writes STK rows; the enum
// stays open for the surrounding back office.
type StockReferenceType string

const (
	StockReferenceTypeStockTake StockReferenceType = "STK"
)
