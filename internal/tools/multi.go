package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/roelfdiedericks/chatreply/internal/logging"
	"github.com/roelfdiedericks/chatreply/internal/types"
)

// Multi merges several tool clients. Calls are routed by ServerID as learned
// from the last listing, so clients must advertise distinct server ids.
type Multi struct {
	clients []ToolClient

	mu     sync.RWMutex
	routes map[string]ToolClient
}

// NewMulti combines clients, skipping nils.
func NewMulti(clients ...ToolClient) *Multi {
	m := &Multi{routes: make(map[string]ToolClient)}
	for _, c := range clients {
		if c != nil {
			m.clients = append(m.clients, c)
		}
	}
	return m
}

// ListTools concatenates the listings. A failing client is skipped; an error
// is returned only when every client fails.
func (m *Multi) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	var out []types.ToolDescriptor
	var errs []error
	routes := make(map[string]ToolClient)
	for _, c := range m.clients {
		list, err := c.ListTools(ctx)
		if err != nil {
			L_warn("tools: listing failed", "error", err)
			errs = append(errs, err)
			continue
		}
		for _, d := range list {
			routes[d.ServerID] = c
		}
		out = append(out, list...)
	}
	if len(errs) > 0 && len(errs) == len(m.clients) {
		return nil, errors.Join(errs...)
	}

	m.mu.Lock()
	m.routes = routes
	m.mu.Unlock()
	return out, nil
}

// CallTool dispatches to the client that advertised call.ServerID.
func (m *Multi) CallTool(ctx context.Context, call types.ToolCall) (*types.ToolResponse, error) {
	m.mu.RLock()
	c, ok := m.routes[call.ServerID]
	m.mu.RUnlock()
	if !ok {
		if _, err := m.ListTools(ctx); err != nil {
			return nil, err
		}
		m.mu.RLock()
		c, ok = m.routes[call.ServerID]
		m.mu.RUnlock()
	}
	if !ok {
		return nil, fmt.Errorf("no tool server %q", call.ServerID)
	}
	return c.CallTool(ctx, call)
}
