package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/softmatch/internal/model"
	"github.com/devrev/softmatch/internal/service"
	"github.com/devrev/softmatch/internal/validation"
	"go.uber.org/zap"
)

// Result summarizes a replayed scenario
type Result struct {
	Scenario     string              `json:"scenario"`
	TenantID     int64               `json:"tenant_id"`
	Players      map[string]int64    `json:"players"`
	Sessions     []model.SessionView `json:"sessions"`
	Completed    int                 `json:"completed"`
	Awaiting     int                 `json:"awaiting"`
	Unmatched    int                 `json:"unmatched"`
	LargestGroup int                 `json:"largest_group"`
}

// Check compares the result with what the scenario expects
func (r *Result) Check(expect Expect) error {
	var errs []error
	if r.Completed != expect.Completed {
		errs = append(errs, fmt.Errorf("completed: got %d, want %d", r.Completed, expect.Completed))
	}
	if r.Awaiting != expect.Awaiting {
		errs = append(errs, fmt.Errorf("awaiting: got %d, want %d", r.Awaiting, expect.Awaiting))
	}
	if r.Unmatched != expect.Unmatched {
		errs = append(errs, fmt.Errorf("unmatched: got %d, want %d", r.Unmatched, expect.Unmatched))
	}
	if expect.LargestGroup > 0 && r.LargestGroup != expect.LargestGroup {
		errs = append(errs, fmt.Errorf("largest group: got %d, want %d", r.LargestGroup, expect.LargestGroup))
	}
	return errors.Join(errs...)
}

// Runner replays scenarios against a live matchmaking service
type Runner struct {
	svc      *service.MatchmakingService
	brackets *validation.Brackets
	logger   *zap.Logger
}

// NewRunner creates a scenario runner
func NewRunner(svc *service.MatchmakingService, brackets *validation.Brackets, logger *zap.Logger) *Runner {
	return &Runner{svc: svc, brackets: brackets, logger: logger}
}

// Run clears the tenant, queues every player and groups them according to the
// scenario mode. Entries are left in place for inspection.
func (r *Runner) Run(ctx context.Context, tenantID int64, sc *Scenario) (*Result, error) {
	if _, err := r.svc.Clear(ctx, tenantID); err != nil {
		return nil, err
	}

	result := &Result{
		Scenario: sc.Name,
		TenantID: tenantID,
		Players:  make(map[string]int64, len(sc.Players)),
		Sessions: []model.SessionView{},
	}
	var order []string
	seen := make(map[string]struct{})
	track := func(v *model.SessionView) {
		if v == nil {
			return
		}
		if _, ok := seen[v.ID]; !ok {
			seen[v.ID] = struct{}{}
			order = append(order, v.ID)
		}
	}

	for _, p := range sc.Players {
		decl, err := p.Declaration(r.brackets)
		if err != nil {
			return nil, fmt.Errorf("player %s: %w", p.Name, err)
		}
		joined, err := r.svc.AddScripted(ctx, tenantID, decl, sc.Mode == ModeArrival)
		if err != nil {
			return nil, fmt.Errorf("player %s: %w", p.Name, err)
		}
		result.Players[p.Name] = joined.Entry.ID()
		track(joined.Session)
	}

	if sc.Mode == ModePartition {
		views, err := r.svc.Partition(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for i := range views {
			track(&views[i])
		}
	}

	for _, id := range order {
		view, err := r.svc.Session(id)
		if err != nil {
			return nil, err
		}
		result.Sessions = append(result.Sessions, view)
		if view.State == model.SessionCompleted {
			result.Completed++
		}
		if n := len(view.Members); n > result.LargestGroup {
			result.LargestGroup = n
		}
	}

	snap, err := r.svc.Snapshot(tenantID)
	if err != nil {
		return nil, err
	}
	result.Awaiting = len(snap.Sessions)
	result.Unmatched = snap.Unattached

	r.logger.Info("Scenario finished",
		zap.String("scenario", sc.Name),
		zap.Int64("tenant_id", tenantID),
		zap.Int("completed", result.Completed),
		zap.Int("awaiting", result.Awaiting),
		zap.Int("unmatched", result.Unmatched))

	return result, nil
}
