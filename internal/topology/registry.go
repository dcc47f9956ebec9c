package topology

import (
	"log"
	"sync"
)

// Registry is the ordered set of child gateway addresses (host:port) under
// this node. Addresses are compared verbatim.
type Registry struct {
	mu       sync.RWMutex
	children []string
	onChange func(count int)
}

func New(initial []string) *Registry {
	r := &Registry{children: make([]string, 0, len(initial))}
	for _, addr := range initial {
		r.add(addr)
	}
	return r
}

// OnChange registers a callback invoked with the new size after every
// successful Add or Remove.
func (r *Registry) OnChange(fn func(count int)) {
	r.mu.Lock()
	r.onChange = fn
	count := len(r.children)
	r.mu.Unlock()
	if fn != nil {
		fn(count)
	}
}

// Add appends addr unless it is already registered.
func (r *Registry) Add(addr string) bool {
	r.mu.Lock()
	added := r.add(addr)
	count, fn := len(r.children), r.onChange
	r.mu.Unlock()

	if added {
		log.Printf("[Topology] Child %s added (%d connected)", addr, count)
		if fn != nil {
			fn(count)
		}
	}
	return added
}

func (r *Registry) add(addr string) bool {
	for _, c := range r.children {
		if c == addr {
			return false
		}
	}
	r.children = append(r.children, addr)
	return true
}

// Remove deletes the first occurrence of addr. Unknown addresses are logged
// and ignored.
func (r *Registry) Remove(addr string) bool {
	r.mu.Lock()
	pos := -1
	for i, c := range r.children {
		if c == addr {
			pos = i
			break
		}
	}
	if pos == -1 {
		r.mu.Unlock()
		log.Printf("[Topology] Child %s not found, nothing removed", addr)
		return false
	}
	r.children = append(r.children[:pos], r.children[pos+1:]...)
	count, fn := len(r.children), r.onChange
	r.mu.Unlock()

	log.Printf("[Topology] Child %s removed (%d connected)", addr, count)
	if fn != nil {
		fn(count)
	}
	return true
}

// List returns a snapshot of the registered addresses in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.children))
	copy(out, r.children)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.children)
}
