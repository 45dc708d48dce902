package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ScriptSuite-server/logger"

	"golang.org/x/sync/errgroup"
)

// Runner performs a single feature request for a project and returns its payload.
type Runner interface {
	Run(ctx context.Context, projectID string, feature Feature) (json.RawMessage, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, projectID string, feature Feature) (json.RawMessage, error)

func (fn RunnerFunc) Run(ctx context.Context, projectID string, feature Feature) (json.RawMessage, error) {
	return fn(ctx, projectID, feature)
}

// Aggregator fans feature requests out for one project and merges whatever
// settles into a single ResultSet.
//
// Re-run policy is merge per key: features named in a new run are reset to
// in_flight before their request is issued, features not named keep their
// previous entry. Running against a different project starts from an empty set.
// Only one run may be active at a time; that run is the sole writer.
type Aggregator struct {
	runner Runner
	log    *logger.Logger
	limit  int

	mu        sync.Mutex
	projectID string
	requested []Feature
	results   ResultSet
	running   bool
}

// NewAggregator builds an aggregator. limit bounds concurrent requests; zero or
// less issues every requested feature at once.
func NewAggregator(runner Runner, log *logger.Logger, limit int) *Aggregator {
	return &Aggregator{
		runner:  runner,
		log:     log.With("component", "AnalysisAggregator"),
		limit:   limit,
		results: ResultSet{},
	}
}

// RunAll runs every feature.
func (a *Aggregator) RunAll(ctx context.Context, projectID string) (ResultSet, error) {
	return a.RunSelected(ctx, projectID, All())
}

// RunSelected runs the given features and returns once every one of them has
// settled. Per-feature failures are recorded in the result set; the returned
// error is reserved for a run that could not be started at all.
func (a *Aggregator) RunSelected(ctx context.Context, projectID string, features []Feature) (ResultSet, error) {
	if projectID == "" {
		return nil, ErrNoProject
	}
	features, err := dedupe(features)
	if err != nil {
		return nil, err
	}

	if err := a.begin(projectID, features); err != nil {
		return nil, err
	}

	limit := a.limit
	if limit <= 0 {
		limit = len(features)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, f := range features {
		g.Go(func() error {
			payload, err := a.runOne(ctx, projectID, f)
			a.record(projectID, f, payload, err)
			return nil
		})
	}
	_ = g.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return a.results.clone(), nil
}

func (a *Aggregator) begin(projectID string, features []Feature) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrRunInProgress
	}
	if projectID != a.projectID {
		a.results = ResultSet{}
		a.projectID = projectID
	}
	for _, f := range features {
		a.results[f] = Entry{State: StateInFlight}
	}
	a.requested = features
	a.running = true
	return nil
}

func (a *Aggregator) runOne(ctx context.Context, projectID string, f Feature) (payload json.RawMessage, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feature %s panicked: %v", f, r)
		}
	}()
	payload, err = a.runner.Run(ctx, projectID, f)
	if err == nil && !hasPayload(payload) {
		err = fmt.Errorf("feature %s returned an empty result", f)
	}
	return payload, err
}

func (a *Aggregator) record(projectID string, f Feature, payload json.RawMessage, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.log.Warn("Analysis feature failed", "project_id", projectID, "feature", f.Key(), "error", err)
		a.results[f] = Entry{State: StateFailed, Err: err.Error()}
		return
	}
	a.log.Debug("Analysis feature completed", "project_id", projectID, "feature", f.Key())
	a.results[f] = Entry{State: StateSucceeded, Result: payload}
}

// Status derives the display status of f from its recorded state.
func (a *Aggregator) Status(f Feature) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.results[f].Status()
}

// CompletionPercentage is the share of requested features that reached a
// terminal state, 0 to 100. Without a run it is computed over the loaded keys.
func (a *Aggregator) CompletionPercentage() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	features := a.requested
	if len(features) == 0 {
		for f := range a.results {
			features = append(features, f)
		}
	}
	if len(features) == 0 {
		return 0
	}
	settled := 0
	for _, f := range features {
		if a.results[f].State.Terminal() {
			settled++
		}
	}
	return settled * 100 / len(features)
}

// Results returns a copy of the current result set.
func (a *Aggregator) Results() ResultSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.results.clone()
}

// ProjectID is the project the current result set belongs to.
func (a *Aggregator) ProjectID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.projectID
}

// Load seeds the aggregator with a previously fetched result set so that a
// fresh view can show status without re-running anything.
func (a *Aggregator) Load(projectID string, rs ResultSet) error {
	if projectID == "" {
		return ErrNoProject
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrRunInProgress
	}
	a.projectID = projectID
	a.results = rs.clone()
	a.requested = nil
	return nil
}

// Reset drops every result.
func (a *Aggregator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrRunInProgress
	}
	a.projectID = ""
	a.results = ResultSet{}
	a.requested = nil
	return nil
}

func dedupe(features []Feature) ([]Feature, error) {
	if len(features) == 0 {
		return nil, ErrNoFeatures
	}
	seen := make(map[Feature]bool, len(features))
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownFeature, uint8(f))
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}
