package plm

import (
	"fmt"
	"strings"
)

// OutcomeRecord is the result for one enabled node, in visit order.
//
// Success reflects object creation alone. A node that was created but could
// not be placed in the structure keeps Success true, has Linked false and
// carries the link error in Err.
type OutcomeRecord struct {
	NodeName    string `json:"node"`
	Success     bool   `json:"success"`
	Linked      bool   `json:"linked"`
	ObjectUID   string `json:"object_uid,omitempty"`
	RevisionUID string `json:"revision_uid,omitempty"`
	LineID      string `json:"line_id,omitempty"`
	Err         error  `json:"-"`
}

// Orphaned reports whether the object exists remotely but is not in the structure.
func (r OutcomeRecord) Orphaned() bool {
	return r.Success && !r.Linked && r.Err != nil
}

// Report aggregates a run.
type Report struct {
	Folder       *Container
	Records      []OutcomeRecord
	WindowErrors []error
	// Err is set when the run stopped before any node was created.
	Err error
}

func (r *Report) add(rec OutcomeRecord) {
	r.Records = append(r.Records, rec)
}

// Failed returns records whose object was not created.
func (r *Report) Failed() []OutcomeRecord {
	var out []OutcomeRecord
	for _, rec := range r.Records {
		if !rec.Success {
			out = append(out, rec)
		}
	}
	return out
}

// Orphaned returns records created remotely but left out of the structure.
func (r *Report) Orphaned() []OutcomeRecord {
	var out []OutcomeRecord
	for _, rec := range r.Records {
		if rec.Orphaned() {
			out = append(out, rec)
		}
	}
	return out
}

// HasFailures is true when any node failed, any node is orphaned, or the run
// stopped early.
func (r *Report) HasFailures() bool {
	if r.Err != nil {
		return true
	}
	for _, rec := range r.Records {
		if !rec.Success || rec.Orphaned() {
			return true
		}
	}
	return false
}

// Summary is a one-line description for logs and the CLI.
func (r *Report) Summary() string {
	created := 0
	for _, rec := range r.Records {
		if rec.Success {
			created++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d created", created, len(r.Records))
	if n := len(r.Orphaned()); n > 0 {
		fmt.Fprintf(&b, ", %d not linked", n)
	}
	if n := len(r.WindowErrors); n > 0 {
		fmt.Fprintf(&b, ", %d window errors", n)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, " (%v)", r.Err)
	}
	return b.String()
}

// OutcomePublisher receives records as they are produced.
type OutcomePublisher interface {
	PublishOutcome(rec OutcomeRecord)
	Error(err error)
}

// DefaultOutcomePublisher discards every record. NewMaterializer uses it when
// no publisher is given.
type DefaultOutcomePublisher struct{}

func (DefaultOutcomePublisher) PublishOutcome(OutcomeRecord) {}

func (DefaultOutcomePublisher) Error(error) {}
