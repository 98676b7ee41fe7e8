package game

import (
	"fmt"
	"sort"
	"sync"
)

var (
	modulesMu sync.RWMutex
	modules   = make(map[string]Module)
)

// Register adds a module to the global table. Registration happens at
// startup before any match is created; duplicate ids are a programming
// error.
func Register(m Module) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	id := m.Metadata().ID
	if _, dup := modules[id]; dup {
		panic(fmt.Sprintf("game: duplicate module registration for %q", id))
	}
	modules[id] = m
}

// Lookup returns the module for id.
func Lookup(id string) (Module, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	m, ok := modules[id]
	return m, ok
}

// List returns metadata for every registered module, ordered by id.
func List() []Metadata {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	out := make([]Metadata, 0, len(modules))
	for _, m := range modules {
		out = append(out, m.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
