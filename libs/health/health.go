// Package health serves the liveness and readiness endpoints. Liveness is unconditional;
// readiness is a flag the engine flips on once wiring is done and off
// again while draining, so the balancer stops routing before the
// listener closes.
package health

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Manager holds the readiness flag shared between the wiring code and
// the handlers.
type Manager struct {
	ready atomic.Bool
}

func NewManager(initialReady bool) *Manager {
	m := &Manager{}
	m.ready.Store(initialReady)
	return m
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// LivenessHandler answers ok as long as the process can serve at all.
func (m *Manager) LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessHandler answers 503 until SetReady(true), and again after
// shutdown begins.
func (m *Manager) ReadinessHandler(c *gin.Context) {
	if m.IsReady() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
}
