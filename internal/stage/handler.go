// Package stage defines the contract the pipeline orchestrator needs from
// each processing stage.
package stage

import (
	"context"

	"transcribeflow/internal/store"
)

// Handler describes one pipeline stage. Prepare validates inputs and moves
// the job into the stage's working status; Execute performs the work.
type Handler interface {
	Prepare(context.Context, *store.Job) error
	Execute(context.Context, *store.Job) error
	HealthCheck(context.Context) Health
}
