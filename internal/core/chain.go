package core

import (
	"errors"
	"fmt"

	"github.com/zaja/SyncBackup/internal/model"
)

// ChainState is the explicit per-job chain state. Keeping it an enum with a
// pure transition function makes the reset, corruption and conflict paths
// independently testable instead of hiding them in persistence flags.
type ChainState int

const (
	// StateNoChain means the job has no open chain.
	StateNoChain ChainState = iota
	// StateBaselineActive means an open chain exists holding only its baseline.
	StateBaselineActive
	// StateIncrementalActive means an open chain exists with incrementals applied.
	StateIncrementalActive
)

func (s ChainState) String() string {
	switch s {
	case StateNoChain:
		return "NO_CHAIN"
	case StateBaselineActive:
		return "BASELINE_ACTIVE"
	case StateIncrementalActive:
		return "INCREMENTAL_ACTIVE"
	default:
		return fmt.Sprintf("ChainState(%d)", int(s))
	}
}

// Transition decides the unit type for the next run of an incremental job.
// A reset threshold of 0 means chains grow unbounded.
func Transition(state ChainState, incrementalCount, resetAfter int) model.UnitType {
	if state == StateNoChain {
		return model.UnitBaseline
	}
	if resetAfter > 0 && incrementalCount >= resetAfter {
		return model.UnitBaseline
	}
	return model.UnitIncremental
}

// Decision is the chain manager's verdict for one run, taken before the
// reference state is computed (the reference depends on which chain is
// active). The decision is re-validated by the metadata store at commit
// time; a conflicting concurrent writer fails with ErrChainConflict.
type Decision struct {
	Type model.UnitType

	// Chain is the chain the unit will belong to: the existing active
	// chain for incrementals, a new unsaved chain for baselines. Nil for
	// simple jobs.
	Chain *model.Chain

	// PrevChainID names the chain a baseline decision closes, empty when
	// no chain was active. Carried into the commit so close, create and
	// record happen in one transaction.
	PrevChainID string

	// Recovered marks a baseline forced by a missing baseline folder
	// rather than by the first run or the reset threshold.
	Recovered bool

	// ExpectedCount is the incremental count the decision observed; the
	// incremental commit re-validates against it.
	ExpectedCount int
}

// ChainManager owns the chain state machine and produces one Decision per
// run of an incremental job.
type ChainManager struct {
	store  MetadataStore
	fs     Filesystem
	logger Logger
	clock  Clock
	idgen  IDGenerator
}

// NewChainManager creates a ChainManager with the provided dependencies.
func NewChainManager(store MetadataStore, fs Filesystem, logger Logger, clock Clock, idgen IDGenerator) *ChainManager {
	return &ChainManager{store: store, fs: fs, logger: logger, clock: clock, idgen: idgen}
}

// Decide returns the unit type and chain for the job's next run. Simple
// jobs always get a simple unit. For incremental jobs the active chain is
// loaded and its baseline folder verified on disk; a missing baseline is a
// ChainCorrupt condition answered by forcing a fresh baseline in a brand
// new chain, logged as a recovery event.
func (m *ChainManager) Decide(job *model.Job) (*Decision, error) {
	if job.Kind != model.JobIncremental {
		return &Decision{Type: model.UnitSimple}, nil
	}

	chain, err := m.store.ActiveChain(job.ID)
	if err != nil {
		return nil, fmt.Errorf("loading active chain: %w", err)
	}

	if chain == nil {
		return m.newBaselineDecision(job, "", false), nil
	}

	switch err := m.checkBaseline(chain); {
	case errors.Is(err, ErrChainCorrupt):
		m.logger.Warn("forcing new chain", "job", job.Name, "chain", chain.ID, "error", err)
		return m.newBaselineDecision(job, chain.ID, true), nil
	case err != nil:
		return nil, err
	}

	state := StateIncrementalActive
	if chain.IncrementalCount == 0 {
		state = StateBaselineActive
	}

	if Transition(state, chain.IncrementalCount, job.ResetChainAfter) == model.UnitBaseline {
		m.logger.Info("chain reset threshold reached",
			"job", job.Name, "chain", chain.ID, "incrementals", chain.IncrementalCount)
		return m.newBaselineDecision(job, chain.ID, false), nil
	}

	return &Decision{
		Type:          model.UnitIncremental,
		Chain:         chain,
		ExpectedCount: chain.IncrementalCount,
	}, nil
}

// checkBaseline returns nil when the chain's completed baseline unit still
// exists on disk, and an error wrapping ErrChainCorrupt when the folder is
// gone or the chain never got a completed baseline committed at all.
func (m *ChainManager) checkBaseline(chain *model.Chain) error {
	units, err := m.store.UnitsForChain(chain.ID)
	if err != nil {
		return fmt.Errorf("loading chain units: %w", err)
	}
	for _, unit := range units {
		if unit.Type != model.UnitBaseline || unit.Status != model.UnitCompleted {
			continue
		}
		exists, err := m.fs.DirExists(unit.FolderPath)
		if err != nil {
			return fmt.Errorf("checking baseline folder %s: %w", unit.FolderPath, err)
		}
		if !exists {
			return fmt.Errorf("baseline folder %s missing: %w", unit.FolderPath, ErrChainCorrupt)
		}
		return nil
	}
	return fmt.Errorf("chain %s has no completed baseline: %w", chain.ID, ErrChainCorrupt)
}

func (m *ChainManager) newBaselineDecision(job *model.Job, prevChainID string, recovered bool) *Decision {
	return &Decision{
		Type: model.UnitBaseline,
		Chain: &model.Chain{
			ID:        m.idgen.New(),
			JobID:     job.ID,
			CreatedAt: m.clock.Now(),
		},
		PrevChainID: prevChainID,
		Recovered:   recovered,
	}
}
