// Package processor maps decoded ledger process events onto storage
// mutations. Each kind has one pure function; the Registry checks at
// construction that the table is complete.
package processor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"matchmaker-ledger/internal/changeset"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/ledger"
)

// ErrProtocolMismatch is returned for events whose shape does not match the
// process definition. It is fatal to the indexer.
var ErrProtocolMismatch = errors.New("protocol mismatch")

// Kind is a ledger process name handled by this node.
type Kind string

const (
	KindDemandCreate        Kind = "demand-create"
	KindDemandComment       Kind = "demand-comment"
	KindMatch2Propose       Kind = "match2-propose"
	KindMatch2Accept        Kind = "match2-accept"
	KindMatch2AcceptFinal   Kind = "match2-acceptFinal"
	KindMatch2Reject        Kind = "match2-reject"
	KindMatch2Cancel        Kind = "match2-cancel"
	KindRematch2Propose     Kind = "rematch2-propose"
	KindRematch2AcceptFinal Kind = "rematch2-acceptFinal"
)

// Kinds lists every kind. The registry must map each of them.
var Kinds = []Kind{
	KindDemandCreate,
	KindDemandComment,
	KindMatch2Propose,
	KindMatch2Accept,
	KindMatch2AcceptFinal,
	KindMatch2Reject,
	KindMatch2Cancel,
	KindRematch2Propose,
	KindRematch2AcceptFinal,
}

// ProcessVersion is the ledger process version every kind is submitted at.
const ProcessVersion uint32 = 1

// Process returns the ledger process id for k.
func (k Kind) Process() ledger.ProcessID {
	return ledger.ProcessID{ID: string(k), Version: ProcessVersion}
}

// Input is everything a processor may look at.
type Input struct {
	Event ledger.ProcessRan

	// Transaction is the local transaction whose hash matched the
	// extrinsic, nil when another node submitted it.
	Transaction *domain.Transaction

	// InputIDs are the local ids of Event.Inputs, index for index.
	InputIDs []uuid.UUID
}

// Func maps one event onto a ChangeSet fragment.
type Func func(Input) (changeset.ChangeSet, error)

// Registry is the closed table of processors.
type Registry struct {
	fns map[Kind]Func
}

// NewRegistry returns the registry of every built-in processor.
func NewRegistry() (*Registry, error) {
	return newRegistry(map[Kind]Func{
		KindDemandCreate:        demandCreate,
		KindDemandComment:       demandComment,
		KindMatch2Propose:       match2Propose,
		KindMatch2Accept:        match2Accept,
		KindMatch2AcceptFinal:   match2AcceptFinal,
		KindMatch2Reject:        match2Reject,
		KindMatch2Cancel:        match2Cancel,
		KindRematch2Propose:     rematch2Propose,
		KindRematch2AcceptFinal: rematch2AcceptFinal,
	})
}

func newRegistry(table map[Kind]Func) (*Registry, error) {
	var errs []error
	for _, k := range Kinds {
		if table[k] == nil {
			errs = append(errs, fmt.Errorf("no processor for %s", k))
		}
	}
	known := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		known[k] = true
	}
	var extra []string
	for k := range table {
		if !known[k] {
			extra = append(extra, string(k))
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		errs = append(errs, fmt.Errorf("processor for unknown kind %s", k))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	fns := make(map[Kind]Func, len(table))
	for k, fn := range table {
		fns[k] = fn
	}
	return &Registry{fns: fns}, nil
}

// Lookup returns the processor for a ledger process name.
func (r *Registry) Lookup(process string) (Func, bool) {
	fn, ok := r.fns[Kind(process)]
	return fn, ok
}

// Run looks up and runs the processor for in.Event. ok is false when the
// process is not one of ours.
func (r *Registry) Run(in Input) (cs changeset.ChangeSet, ok bool, err error) {
	fn, ok := r.Lookup(in.Event.Process.ID)
	if !ok {
		return changeset.ChangeSet{}, false, nil
	}
	if len(in.InputIDs) != len(in.Event.Inputs) {
		return changeset.ChangeSet{}, true, fmt.Errorf("%w: %s has %d inputs but %d resolved ids",
			ErrProtocolMismatch, in.Event.Process.ID, len(in.Event.Inputs), len(in.InputIDs))
	}
	cs, err = fn(in)
	return cs, true, err
}
