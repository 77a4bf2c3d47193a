// Package events provides an event system for pool lifecycle and fault notifications.
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventPoolStarted is emitted once every worker of a pool is running
	EventPoolStarted EventType = "pool_started"
	// EventPoolStopped is emitted after teardown has joined every worker
	EventPoolStopped EventType = "pool_stopped"
	// EventJobPanicked is emitted when a job aborts and its worker recovers
	EventJobPanicked EventType = "job_panicked"
	// EventJobRejected is emitted when a submission hits a closed pool
	EventJobRejected EventType = "job_rejected"
	// EventFaultInjected is emitted when the chaos monkey submits a faulty job
	EventFaultInjected EventType = "fault_injected"
)

// FaultType represents the kind of injected fault
type FaultType string

const (
	FaultTypePanic FaultType = "panic"
	FaultTypeStall FaultType = "stall"
)

// Event represents a pool or fault event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Pool      string    `json:"pool"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	WorkerID      *int      `json:"worker_id,omitempty"`
	Workers       int       `json:"workers,omitempty"`
	Discarded     int       `json:"discarded,omitempty"`
	FaultType     FaultType `json:"fault_type,omitempty"`
	StallDuration string    `json:"stall_duration,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// NewPoolStartedEvent creates a pool started event
func NewPoolStartedEvent(pool string, workers int) Event {
	return Event{
		Type:      EventPoolStarted,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			Workers: workers,
		},
	}
}

// NewPoolStoppedEvent creates a pool stopped event
func NewPoolStoppedEvent(pool string, discarded int) Event {
	return Event{
		Type:      EventPoolStopped,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			Discarded: discarded,
		},
	}
}

// NewJobPanickedEvent creates a job panicked event
func NewJobPanickedEvent(pool string, workerID int, recovered any) Event {
	id := workerID
	return Event{
		Type:      EventJobPanicked,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			WorkerID: &id,
			Error:    panicMessage(recovered),
		},
	}
}

// NewJobRejectedEvent creates a job rejected event
func NewJobRejectedEvent(pool string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventJobRejected,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			Error: errMsg,
		},
	}
}

// NewFaultInjectedEvent creates a fault injected event
func NewFaultInjectedEvent(pool string, faultType FaultType) Event {
	return Event{
		Type:      EventFaultInjected,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			FaultType: faultType,
		},
	}
}

// NewStallInjectedEvent creates a fault injected event for a stalling job
func NewStallInjectedEvent(pool string, stall time.Duration) Event {
	return Event{
		Type:      EventFaultInjected,
		Timestamp: time.Now(),
		Pool:      pool,
		Data: EventData{
			FaultType:     FaultTypeStall,
			StallDuration: stall.String(),
		},
	}
}

func panicMessage(recovered any) string {
	switch v := recovered.(type) {
	case nil:
		return ""
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
