// Package eligibility tracks employment, goal achievement, and cliff
// requirements per account and derives the eligibility boolean used to
// auto-freeze ledger accounts. Eligibility is recomputed on every query
// so it can never drift from its inputs; the dispatch layer owns
// pushing the derived flag into the ledger.
package eligibility

import (
	"sync"
	"time"

	"custodia/internal/domain"
)

// Gate owns the eligibility inputs. Accounts with no record are always
// eligible; a record exists once employment or requirements sync.
type Gate struct {
	mu      sync.RWMutex
	records map[domain.Account]domain.EligibilityRecord
	goals   map[string]bool

	clock func() time.Time
}

func NewGate(clock func() time.Time) *Gate {
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		records: make(map[domain.Account]domain.EligibilityRecord),
		goals:   make(map[string]bool),
		clock:   clock,
	}
}

// SetEmployment records the employment status for an account.
func (g *Gate) SetEmployment(account domain.Account, employed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.records[account]
	rec.Account = account
	rec.Employed = employed
	g.records[account] = rec
}

// SetGoalAchieved flips a named goal. Goals are global; requirements
// reference them per account.
func (g *Gate) SetGoalAchieved(goalRef string, achieved bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.goals[goalRef] = achieved
}

// SetRequirements records the cliff and goal requirement for an account.
func (g *Gate) SetRequirements(account domain.Account, cliffEnd time.Time, goalRef string, goalRequired bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec := g.records[account]
	rec.Account = account
	rec.CliffEnd = cliffEnd
	rec.GoalRef = goalRef
	rec.GoalRequired = goalRequired
	g.records[account] = rec
}

// IsEligible derives eligibility from the stored inputs. Pure view: no
// stored derived state.
func (g *Gate) IsEligible(account domain.Account) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[account]
	if !ok {
		return true
	}
	return rec.Eligible(g.clock(), func(ref string) bool { return g.goals[ref] })
}

// AccountsRequiringGoal lists accounts whose requirements reference the
// goal, so a goal flip can refresh every affected freeze flag.
func (g *Gate) AccountsRequiringGoal(goalRef string) []domain.Account {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var accounts []domain.Account
	for account, rec := range g.records {
		if rec.GoalRequired && rec.GoalRef == goalRef {
			accounts = append(accounts, account)
		}
	}
	return accounts
}

// Snapshot captures gate state for all-or-nothing dispatch.
type Snapshot struct {
	records map[domain.Account]domain.EligibilityRecord
	goals   map[string]bool
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	records := make(map[domain.Account]domain.EligibilityRecord, len(g.records))
	for k, v := range g.records {
		records[k] = v
	}
	goals := make(map[string]bool, len(g.goals))
	for k, v := range g.goals {
		goals[k] = v
	}
	return Snapshot{records: records, goals: goals}
}

func (g *Gate) Restore(snap Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = snap.records
	g.goals = snap.goals
}
