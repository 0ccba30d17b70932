package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/batchsync/pkg/batch"
	"github.com/ajitpratap0/batchsync/pkg/config"
	"github.com/ajitpratap0/batchsync/pkg/credentials"
	"github.com/ajitpratap0/batchsync/pkg/delivery"
)

// State is a step of a sync run.
type State string

const (
	StateInit                State = "INIT"
	StateCredentialsResolved State = "CREDENTIALS_RESOLVED"
	StateSchemaValidated     State = "SCHEMA_VALIDATED"
	StateProcessing          State = "PROCESSING"
	StateCommitted           State = "COMMITTED"
	StateRolledBack          State = "ROLLED_BACK"
	StateReported            State = "REPORTED"
)

// CredentialLookup resolves the API secret for a project.
type CredentialLookup interface {
	Lookup(ctx context.Context, projectKey string) (*credentials.Record, error)
}

// Deliverer sends one batch.
type Deliverer interface {
	Deliver(ctx context.Context, b batch.Batch, creds credentials.Record) delivery.Outcome
}

// Config holds the per-run settings of the orchestrator.
type Config struct {
	ProjectKey string
	DateFields []string
	URLFields  []string
	BatchSize  int
	Pacing     time.Duration
}

// Result is the outcome of one run. It is not modified after Run returns.
type Result struct {
	Kind         config.SourceKind
	Source       string
	SuccessCount int
	FailCount    int
	Errors       []string
	States       []State
	// Fatal is set when the run ended before or instead of processing.
	Fatal bool
	// Message is the terminal summary.
	Message string
}

// FinalState returns the last state the run reached.
func (r *Result) FinalState() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Reached reports whether the run passed through s.
func (r *Result) Reached(s State) bool {
	for _, st := range r.States {
		if st == s {
			return true
		}
	}
	return false
}

func (r *Result) summary() string {
	label := "Stream"
	if r.Kind == config.SourceTable {
		label = "Table"
	}
	msg := fmt.Sprintf("%s sync complete for %s: %d records succeeded, %d failed.",
		label, r.Source, r.SuccessCount, r.FailCount)
	if len(r.Errors) > 0 {
		msg += "\n" + strings.Join(r.Errors, "\n")
	}
	return msg
}
