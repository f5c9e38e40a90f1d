package scan

import (
	"os"
	"sync"
	"syscall"
)

// processRegistry tracks the live subprocess for each running job so an
// out-of-band cancel can reach it. Entries exist only while a command
// is actually executing; both success and failure paths remove them.
type processRegistry struct {
	mu    sync.Mutex
	procs map[string]*os.Process
}

func newProcessRegistry() *processRegistry {
	return &processRegistry{procs: make(map[string]*os.Process)}
}

func (r *processRegistry) add(jobID string, p *os.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[jobID] = p
}

func (r *processRegistry) remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, jobID)
}

// kill sends a termination signal to the job's live subprocess, if any.
// Best effort: the signal does not guarantee immediate death.
func (r *processRegistry) kill(jobID string) bool {
	r.mu.Lock()
	p, ok := r.procs[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := p.Signal(syscall.SIGTERM); err == nil {
		return true
	}
	return p.Kill() == nil
}

func (r *processRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}
