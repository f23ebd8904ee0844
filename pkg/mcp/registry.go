package mcp

import (
	"github.com/rs/zerolog/log"
)

type registryEntry struct {
	descriptor ToolDescriptor
	owner      string
}

// Registry maps tool names to the backend client that provides them.
// Re-registering a name overwrites the previous owner (last writer wins).
type Registry struct {
	entries map[string]registryEntry
	order   []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
	}
}

// Register inserts or overwrites the entry for the descriptor's name.
// Descriptors without a name are skipped.
func (r *Registry) Register(descriptor ToolDescriptor, owner string) {
	if descriptor.Name == "" {
		log.Warn().Str("owner", owner).Msg("Skipping tool registration without a name")
		return
	}

	if _, exists := r.entries[descriptor.Name]; !exists {
		r.order = append(r.order, descriptor.Name)
	}
	r.entries[descriptor.Name] = registryEntry{
		descriptor: descriptor,
		owner:      owner,
	}

	log.Debug().
		Str("tool", descriptor.Name).
		Str("owner", owner).
		Msg("Registered tool")
}

// Resolve returns the owning client name for a tool.
func (r *Registry) Resolve(toolName string) (string, bool) {
	entry, ok := r.entries[toolName]
	if !ok {
		return "", false
	}
	return entry.owner, true
}

// Get returns the registered descriptor for a tool name.
func (r *Registry) Get(toolName string) (ToolDescriptor, bool) {
	entry, ok := r.entries[toolName]
	if !ok {
		return ToolDescriptor{}, false
	}
	return entry.descriptor, true
}

// List returns all registered descriptors in registration order.
func (r *Registry) List() []ToolDescriptor {
	descriptors := make([]ToolDescriptor, 0, len(r.entries))
	for _, name := range r.order {
		if entry, ok := r.entries[name]; ok {
			descriptors = append(descriptors, entry.descriptor)
		}
	}
	return descriptors
}

// RemoveOwner removes every entry owned by the given client so a dead
// backend can no longer be routed to.
func (r *Registry) RemoveOwner(owner string) int {
	removed := 0
	kept := r.order[:0]
	for _, name := range r.order {
		entry, ok := r.entries[name]
		if !ok {
			continue
		}
		if entry.owner == owner {
			delete(r.entries, name)
			removed++
			continue
		}
		kept = append(kept, name)
	}
	r.order = kept

	if removed > 0 {
		log.Debug().Str("owner", owner).Int("removed", removed).Msg("Swept tools for closed client")
	}
	return removed
}
