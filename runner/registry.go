package runner

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ethereum-optimism/infra/op-suite/metrics"
)

// ProcessRegistry tracks every child process the run has launched and not
// yet cleaned up. The scheduler owns one registry per run: Launch
// registers the PID, Cleanup deregisters it, and an end-of-run sweep
// reports anything still alive as leaked. Nothing outlives the run.
type ProcessRegistry struct {
	log log.Logger

	mu    sync.Mutex
	procs map[int]string // pid -> group name
}

// NewProcessRegistry creates an empty registry.
func NewProcessRegistry(logger log.Logger) *ProcessRegistry {
	if logger == nil {
		logger = log.New()
	}
	return &ProcessRegistry{
		log:   logger.New("component", "process-registry"),
		procs: make(map[int]string),
	}
}

// Register records a newly launched child.
func (r *ProcessRegistry) Register(pid int, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[pid] = group
}

// Deregister removes a cleaned-up child.
func (r *ProcessRegistry) Deregister(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, pid)
}

// Len returns the number of currently registered children.
func (r *ProcessRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// LeakedProcess identifies a child that survived its controller's cleanup.
type LeakedProcess struct {
	PID   int
	Group string
}

// Sweep checks every still-registered PID for liveness and reports the
// ones that are actually alive. Dead-but-registered entries are dropped
// silently; a leak is logged and counted but never fails the run.
func (r *ProcessRegistry) Sweep() []LeakedProcess {
	r.mu.Lock()
	snapshot := make(map[int]string, len(r.procs))
	for pid, group := range r.procs {
		snapshot[pid] = group
	}
	r.mu.Unlock()

	var leaked []LeakedProcess
	for pid, group := range snapshot {
		alive, err := process.PidExists(int32(pid))
		if err != nil {
			r.log.Warn("Failed to check process liveness", "pid", pid, "group", group, "err", err)
			continue
		}
		if !alive {
			r.Deregister(pid)
			continue
		}
		r.log.Warn("Leaked child process survived cleanup", "pid", pid, "group", group)
		metrics.RecordLeakedProcess(group)
		leaked = append(leaked, LeakedProcess{PID: pid, Group: group})
	}
	return leaked
}
