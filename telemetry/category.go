package telemetry

import (
	"context"
	"sync"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
)

// categoryTable is the registration and quota bookkeeping shared by the
// concrete sinks. A sink accepts an event only if its category was
// registered, the payload fits the element ceiling and the category's
// window has room. Only delivered events keep their window slot.
type categoryTable struct {
	mu         sync.RWMutex
	categories map[string]EventCategory
	limiter    EventLimiter
	logger     core.Logger
}

func newCategoryTable(limiter EventLimiter, logger core.Logger) *categoryTable {
	if limiter == nil {
		limiter = NewMemoryWindowLimiter(0, nil)
	}
	return &categoryTable{
		categories: make(map[string]EventCategory),
		limiter:    limiter,
		logger:     core.LoggerOrNoop(logger),
	}
}

func validCategory(c EventCategory) bool {
	return c.Name != "" && c.VendorKey != "" && c.MaxEventsPerHour > 0 && c.MaxElementsPerEvent > 0
}

// register stores c, replacing an earlier declaration of the same name.
func (t *categoryTable) register(c EventCategory) Result {
	if !validCategory(c) {
		return ResultInvalidData
	}
	t.mu.Lock()
	t.categories[c.Name] = c
	t.mu.Unlock()
	return ResultOK
}

func (t *categoryTable) lookup(name string) (EventCategory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.categories[name]
	return c, ok
}

// check validates eventName and payload against the registered category.
// It takes no window slot.
func (t *categoryTable) check(eventName string, payload Payload) (EventCategory, Result) {
	category, ok := t.lookup(eventName)
	if !ok {
		return EventCategory{}, ResultNotInitialized
	}
	if payload == nil {
		return category, ResultInvalidData
	}
	if payload.ElementCount() > category.MaxElementsPerEvent {
		return category, ResultTooManyItems
	}
	return category, ResultOK
}

// reserve takes one slot of the category's window for event id. Sinks
// call it just before delivery and hand the slot back with release if
// delivery fails.
func (t *categoryTable) reserve(ctx context.Context, category EventCategory, id string) Result {
	allowed, err := t.limiter.Allow(ctx, windowKey(category), id, category.MaxEventsPerHour)
	if err != nil {
		// Fail open: a broken limiter backend should not silence analytics.
		t.logger.Warn("Event limiter unavailable, admitting event", map[string]interface{}{
			"error": err.Error(),
			"event": category.Name,
		})
		return ResultOK
	}
	if !allowed {
		return ResultTooManyRequests
	}
	return ResultOK
}

// release returns the slot taken for event id.
func (t *categoryTable) release(ctx context.Context, category EventCategory, id string) {
	if err := t.limiter.Release(ctx, windowKey(category), id); err != nil {
		t.logger.Warn("Failed to release event window slot", map[string]interface{}{
			"error": err.Error(),
			"event": category.Name,
		})
	}
}

// usage returns how many events of eventName are inside the window.
func (t *categoryTable) usage(ctx context.Context, eventName string) (int64, bool) {
	category, ok := t.lookup(eventName)
	if !ok {
		return 0, false
	}
	count, err := t.limiter.Count(ctx, windowKey(category))
	if err != nil {
		t.logger.Debug("Event window unavailable", map[string]interface{}{
			"error": err.Error(),
			"event": eventName,
		})
		return 0, false
	}
	return count, true
}

func windowKey(c EventCategory) string {
	return c.VendorKey + ":" + c.Name
}
