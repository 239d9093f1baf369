package core

import (
	"context"
	"sync"
)

// ComponentKind distinguishes the runtime's internal subsystems for
// logging/telemetry tagging purposes.
type ComponentKind string

const (
	ComponentKindService   ComponentKind = "service"
	ComponentKindScheduler ComponentKind = "scheduler"
	ComponentKindExecutor  ComponentKind = "executor"
	ComponentKindNotify    ComponentKind = "notify"
	ComponentKindHealth    ComponentKind = "health"
	ComponentKindPlanner   ComponentKind = "planner"
)

// currentComponentKind holds the kind most recently passed to
// SetCurrentComponentKind. Nothing inside this module sets or reads it.
var (
	currentComponentKind ComponentKind
	componentKindMu      sync.RWMutex
)

// SetCurrentComponentKind records which subsystem is initializing.
func SetCurrentComponentKind(k ComponentKind) {
	componentKindMu.Lock()
	defer componentKindMu.Unlock()
	currentComponentKind = k
}

// GetCurrentComponentKind returns the most recently recorded subsystem kind.
func GetCurrentComponentKind() ComponentKind {
	componentKindMu.RLock()
	defer componentKindMu.RUnlock()
	return currentComponentKind
}

// Component is implemented by agent-supplied components passed in
// service.Config.Components; the Sync Service Host initializes them in
// order during Start. The runtime's own subsystems do not implement it.
type Component interface {
	Initialize(ctx context.Context) error
	Name() string
	Kind() ComponentKind
}
