// Package migrate implements the schema-migration engine: a registry of
// directed version-to-version transforms, shortest-path resolution between a
// record's stored version and the current one, and step-validated
// application.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/calcwerk/vaultcore/internal/logging"
)

// VersionKey is the field carrying a record's schema version tag.
const VersionKey = "dataVersion"

// Transform upgrades a record from one schema version to the next. It may
// mutate and return its argument; the engine only ever passes it a copy.
type Transform func(rec map[string]any) (map[string]any, error)

// Step is one resolved edge of a migration path.
type Step struct {
	FromVersion string
	ToVersion   string
	transform   Transform
}

// ValidateFunc checks a record's structural integrity after each step and
// returns a non-nil error when the record is broken.
type ValidateFunc func(rec map[string]any) error

// Result reports the outcome of migrating a single record.
type Result struct {
	Success      bool
	FromVersion  string
	ToVersion    string
	StepsApplied int
	Duration     time.Duration
	Record       map[string]any
	Err          error
}

// Stats accumulates engine-wide migration counters.
type Stats struct {
	TotalMigrations      int           `json:"totalMigrations"`
	SuccessfulMigrations int           `json:"successfulMigrations"`
	FailedMigrations     int           `json:"failedMigrations"`
	AverageDuration      time.Duration `json:"averageDuration"`

	totalDuration time.Duration
}

// Engine holds the edge registry. Edges are registered at startup; the
// registration sequence of versions defines their ordering for direction
// checks.
type Engine struct {
	current  string
	validate ValidateFunc
	log      logging.Logger

	mu    sync.Mutex
	edges map[string][]Step
	order map[string]int
	next  int
	stats Stats
}

// NewEngine returns an engine targeting the given current version. validate
// may be nil, in which case per-step validation is skipped.
func NewEngine(current string, validate ValidateFunc, log logging.Logger) *Engine {
	return &Engine{
		current:  current,
		validate: validate,
		log:      log.With("component", "migrate"),
		edges:    make(map[string][]Step),
		order:    make(map[string]int),
	}
}

// CurrentVersion returns the version records are migrated towards.
func (e *Engine) CurrentVersion() string { return e.current }

// Register adds a directed edge (from, to, fn). Versions take their ordering
// from first registration.
func (e *Engine) Register(from, to string, fn Transform) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.noteVersion(from)
	e.noteVersion(to)
	e.edges[from] = append(e.edges[from], Step{FromVersion: from, ToVersion: to, transform: fn})
}

func (e *Engine) noteVersion(v string) {
	if _, ok := e.order[v]; !ok {
		e.order[v] = e.next
		e.next++
	}
}

// NeedsMigration reports whether rec carries a version tag different from,
// and upgradeable to, the current version. Malformed or untagged input is
// not a migratable record.
func (e *Engine) NeedsMigration(rec map[string]any) bool {
	tag, ok := versionOf(rec)
	if !ok || tag == e.current {
		return false
	}
	_, err := e.Path(tag, e.current)
	return err == nil
}

func versionOf(rec map[string]any) (string, bool) {
	if rec == nil {
		return "", false
	}
	tag, ok := rec[VersionKey].(string)
	if !ok || tag == "" {
		return "", false
	}
	return tag, true
}

// Path computes the shortest chain of registered edges from one version to
// another using breadth-first search. It fails with
// common.ErrInvalidDirection when to precedes from in the registered
// ordering, and common.ErrNoMigrationPath when no chain exists.
func (e *Engine) Path(from, to string) ([]Step, error) {
	if from == to {
		return []Step{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fromIdx, fromKnown := e.order[from]
	toIdx, toKnown := e.order[to]
	if fromKnown && toKnown && toIdx < fromIdx {
		return nil, fmt.Errorf("%w: %s -> %s", common.ErrInvalidDirection, from, to)
	}

	type node struct {
		version string
		path    []Step
	}
	queue := []node{{version: from}}
	visited := map[string]bool{from: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, step := range e.edges[cur.version] {
			if visited[step.ToVersion] {
				continue
			}
			path := append(append([]Step{}, cur.path...), step)
			if step.ToVersion == to {
				return path, nil
			}
			visited[step.ToVersion] = true
			queue = append(queue, node{version: step.ToVersion, path: path})
		}
	}

	return nil, fmt.Errorf("%w: %s -> %s", common.ErrNoMigrationPath, from, to)
}

// MigrateRecord walks rec from its stored version to the current version,
// validating after every step. The input is never mutated: the result holds
// a migrated copy. On failure the chain stops and no later steps apply.
func (e *Engine) MigrateRecord(ctx context.Context, rec map[string]any) *Result {
	started := time.Now()
	res := &Result{ToVersion: e.current}

	fail := func(err error) *Result {
		res.Err = err
		res.Duration = time.Since(started)
		e.recordOutcome(res)
		e.log.Warn(ctx, "migration failed",
			"from", res.FromVersion, "steps_applied", res.StepsApplied, "error", err)
		return res
	}

	tag, ok := versionOf(rec)
	if !ok {
		return fail(fmt.Errorf("%w: record has no version tag", common.ErrNoMigrationPath))
	}
	res.FromVersion = tag

	// Already current: zero steps, unchanged copy.
	if tag == e.current {
		copied, err := deepCopy(rec)
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Record = copied
		res.Duration = time.Since(started)
		e.recordOutcome(res)
		return res
	}

	path, err := e.Path(tag, e.current)
	if err != nil {
		return fail(err)
	}

	cur, err := deepCopy(rec)
	if err != nil {
		return fail(err)
	}

	for _, step := range path {
		next, err := step.transform(cur)
		if err != nil {
			return fail(fmt.Errorf("transform %s -> %s: %w", step.FromVersion, step.ToVersion, err))
		}
		next[VersionKey] = step.ToVersion

		if e.validate != nil {
			if err := e.validate(next); err != nil {
				return fail(fmt.Errorf("validation after %s -> %s: %w", step.FromVersion, step.ToVersion, err))
			}
		}

		cur = next
		res.StepsApplied++
	}

	res.Success = true
	res.Record = cur
	res.Duration = time.Since(started)
	e.recordOutcome(res)
	e.log.Info(ctx, "record migrated",
		"from", res.FromVersion, "to", res.ToVersion, "steps", res.StepsApplied)
	return res
}

// MigrateBatch migrates each record independently; one record's failure does
// not abort the others. Scheduling stops between items once ctx is cancelled.
func (e *Engine) MigrateBatch(ctx context.Context, recs []map[string]any) []*Result {
	results := make([]*Result, 0, len(recs))
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.MigrateRecord(ctx, rec))
	}
	return results
}

func (e *Engine) recordOutcome(res *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalMigrations++
	if res.Success {
		e.stats.SuccessfulMigrations++
	} else {
		e.stats.FailedMigrations++
	}
	e.stats.totalDuration += res.Duration
	e.stats.AverageDuration = e.stats.totalDuration / time.Duration(e.stats.TotalMigrations)
}

// GetStats returns a snapshot of the cumulative migration counters.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ResetStats clears the cumulative counters.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = Stats{}
}

// deepCopy clones a record through a JSON round-trip, which also normalizes
// values to the shapes a decoded record would have.
func deepCopy(rec map[string]any) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("copying record: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("copying record: %w", err)
	}
	return out, nil
}
