package bootstrap

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultServiceTimeout = 30 * time.Second

// LifecycleManager starts services in dependency order and stops them in
// reverse order.
type LifecycleManager struct {
	// services holds all registered services
	services map[string]Service

	// dependencies tracks service dependencies
	dependencies map[string][]string

	// startOrder tracks the order services were started
	startOrder []string

	mutex   sync.Mutex
	started bool

	listeners []func(LifecycleEvent)

	// timeout for each service operation
	timeout time.Duration
	logger  *zap.Logger
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		timeout:      defaultServiceTimeout,
		logger:       logger,
	}
}

// SetTimeout sets the timeout for each service start and stop
func (lm *LifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.timeout = timeout
}

// Register registers a service which starts after deps
func (lm *LifecycleManager) Register(service Service, deps ...string) error {
	if service == nil || service.Name() == "" {
		return ErrInvalidService.GenWithStackByArgs("")
	}
	name := service.Name()

	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	if lm.started {
		return ErrLifecycleState.GenWithStackByArgs("started")
	}
	if _, exists := lm.services[name]; exists {
		return ErrServiceRegistered.GenWithStackByArgs(name)
	}
	lm.services[name] = service
	lm.dependencies[name] = deps
	return nil
}

// AddListener adds a lifecycle event listener. Listeners are called
// synchronously and must not call back into the manager.
func (lm *LifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// Start starts all services in dependency order. If a service fails to
// start, the services already started are stopped again.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return ErrLifecycleState.GenWithStackByArgs("started")
	}
	order, err := lm.calculateStartOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Start(startCtx)
		cancel()
		if err != nil {
			lm.emit(LifecycleEvent{Type: EventServiceStartFailed, Service: name, Error: err})
			lm.logger.Error("service failed to start", zap.String("service", name), zap.Error(err))
			stopErr := lm.stopStarted(ctx)
			return multierr.Append(ErrServiceStart.Wrap(err).GenWithStackByArgs(name), stopErr)
		}
		lm.startOrder = append(lm.startOrder, name)
		lm.emit(LifecycleEvent{Type: EventServiceStarted, Service: name})
		lm.logger.Debug("service started", zap.String("service", name))
	}
	lm.started = true
	return nil
}

// Stop stops all started services in reverse start order. Every service is
// stopped even if another one fails; the failures are combined.
func (lm *LifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	if !lm.started {
		return nil
	}
	lm.started = false
	return lm.stopStarted(ctx)
}

func (lm *LifecycleManager) stopStarted(ctx context.Context) error {
	var errs error
	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(stopCtx)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, err)
			lm.emit(LifecycleEvent{Type: EventServiceStopFailed, Service: name, Error: err})
			lm.logger.Warn("service failed to stop", zap.String("service", name), zap.Error(err))
			continue
		}
		lm.emit(LifecycleEvent{Type: EventServiceStopped, Service: name})
		lm.logger.Debug("service stopped", zap.String("service", name))
	}
	lm.startOrder = nil
	return errs
}

// Health returns the health status of all services
func (lm *LifecycleManager) Health(ctx context.Context) map[string]HealthStatus {
	lm.mutex.Lock()
	services := make(map[string]Service, len(lm.services))
	for name, s := range lm.services {
		services[name] = s
	}
	lm.mutex.Unlock()

	health := make(map[string]HealthStatus, len(services))
	for name, service := range services {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(healthCtx)
		cancel()
		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}
	return health
}

// Services returns all registered service names
func (lm *LifecycleManager) Services() []string {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// calculateStartOrder sorts the services topologically with Kahn's
// algorithm. Services that are ready at the same time start in name order.
func (lm *LifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	graph := make(map[string][]string, len(lm.services))
	for service := range lm.services {
		inDegree[service] = 0
	}
	for service, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, ErrDependencyMissing.GenWithStackByArgs(dep, service)
			}
			graph[dep] = append(graph[dep], service)
			inDegree[service]++
		}
	}

	var queue []string
	for service, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, service)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(lm.services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		var ready []string
		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(result) != len(lm.services) {
		return nil, ErrCircularDependency.GenWithStackByArgs()
	}
	return result, nil
}

func (lm *LifecycleManager) emit(event LifecycleEvent) {
	event.Timestamp = time.Now()
	for _, listener := range lm.listeners {
		listener(event)
	}
}
