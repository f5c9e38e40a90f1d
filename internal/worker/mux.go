package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

// Mux routes queued task types to their handlers. The engine registers
// a single route: scan:job dispatching to the scan supervisor.
type Mux struct{ mux *asynq.ServeMux }

func NewMux() *Mux { return &Mux{mux: asynq.NewServeMux()} }

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }
