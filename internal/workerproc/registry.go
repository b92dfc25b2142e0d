package workerproc

import (
	"fmt"
	"sync"

	"github.com/labframe/labframe/internal/experiment"
)

// Constructor builds a fresh experiment body for one dispatch. Experiment
// packages register their constructors from an init() function, the way a
// database/sql driver registers itself by name.
type Constructor func() experiment.Body

var registry = struct {
	mu sync.Mutex
	m  map[string]Constructor
}{m: make(map[string]Constructor)}

// Register makes name resolvable by worker processes. It panics on a
// duplicate name, since two experiment types silently sharing a class
// name would make dispatch nondeterministic.
func Register(name string, ctor Constructor) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.m[name]; exists {
		panic(fmt.Sprintf("workerproc: experiment %q already registered", name))
	}

	registry.m[name] = ctor
}

func lookup(name string) (Constructor, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	ctor, ok := registry.m[name]

	return ctor, ok
}

// Registered reports the names currently registered, sorted is not
// guaranteed — used by cmd/labworker to log its capabilities at startup.
func Registered() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	out := make([]string, 0, len(registry.m))
	for name := range registry.m {
		out = append(out, name)
	}

	return out
}
