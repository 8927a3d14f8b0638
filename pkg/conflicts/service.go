package conflicts

import (
	"context"
	"fmt"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
	"github.com/agentstation/syncledger/pkg/logging"
)

// Service runs the resolution workflow over a Store.
type Service struct {
	store Store
	rules RuleSet
	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithRules replaces the auto-resolution rule table.
func WithRules(rs RuleSet) Option {
	return func(s *Service) {
		s.rules = rs
	}
}

// WithMinConfidence overrides the confidence a rule needs to fire.
func WithMinConfidence(n int) Option {
	return func(s *Service) {
		s.rules.MinConfidence = n
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator used for conflict ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService creates a Service backed by store, using the default rule table
// unless WithRules is given.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		rules: DefaultRules(),
		now:   func() time.Time { return utc.Now().Time },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the rule table in use.
func (s *Service) Rules() RuleSet {
	return s.rules
}

// Create records a newly detected conflict. It is always created pending.
func (s *Service) Create(ctx context.Context, c *Conflict) error {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = s.now()
	}
	c.Status = StatusPending
	c.Resolution = nil
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.store.CreateConflict(ctx, c); err != nil {
		return errors.WrapResource("create", "conflict", c.ID, err)
	}

	logging.FromContext(ctx).Debug().
		Str("conflict_id", c.ID).
		Str("type", string(c.Type)).
		Str("severity", string(c.Severity)).
		Str("email", c.Email).
		Msg("Conflict recorded")
	return nil
}

// Get returns a conflict by id.
func (s *Service) Get(ctx context.Context, id string) (*Conflict, error) {
	return s.store.GetConflict(ctx, id)
}

// List returns conflicts of any status matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]*Conflict, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	f.Limit = pageSize(f.Limit)
	return s.store.ListConflicts(ctx, f)
}

// ResolveRequest describes a manual resolution.
type ResolveRequest struct {
	Action         Action
	ActorID        string
	Notes          string
	AppliedChanges map[string]any
}

func (r ResolveRequest) validate() error {
	if !r.Action.IsValid() {
		return errors.NewValidationError("action", r.Action, "unknown action")
	}
	if r.ActorID == "" {
		return errors.NewValidationError("actor_id", r.ActorID, "is required")
	}
	return nil
}

// Resolve moves a pending conflict to RESOLVED, or IGNORED when the action is
// IGNORED. Resolving a conflict that already left pending fails with an error
// matching errors.ErrAlreadyResolved and leaves it unchanged.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest) (*Conflict, error) {
	ctx = logging.WithOperation(logging.WithConflict(ctx, id), "resolve")
	if err := req.validate(); err != nil {
		return nil, err
	}
	res := Resolution{
		Action:         req.Action,
		ResolvedBy:     req.ActorID,
		ResolvedAt:     s.now(),
		Notes:          req.Notes,
		AppliedChanges: req.AppliedChanges,
	}
	c, err := s.transition(ctx, id, StatusFor(req.Action), res)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info().
		Str("action", string(req.Action)).
		Str("actor", req.ActorID).
		Msg("Conflict resolved")
	return c, nil
}

// Ignore moves a pending conflict to IGNORED.
func (s *Service) Ignore(ctx context.Context, id, actorID, reason string) (*Conflict, error) {
	return s.Resolve(ctx, id, ResolveRequest{Action: ActionIgnored, ActorID: actorID, Notes: reason})
}

// BulkResolve resolves every pending conflict among ids in one operation and
// returns how many were modified. Conflicts that are already terminal, or
// unknown, are skipped.
func (s *Service) BulkResolve(ctx context.Context, ids []string, action Action, actorID, notes string) (int, error) {
	ctx = logging.WithOperation(ctx, "bulk_resolve")
	req := ResolveRequest{Action: action, ActorID: actorID}
	if err := req.validate(); err != nil {
		return 0, err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	res := Resolution{Action: action, ResolvedBy: actorID, ResolvedAt: s.now(), Notes: notes}
	n, err := s.store.ResolveConflicts(ctx, ids, StatusFor(action), res)
	if err != nil {
		return 0, errors.WrapResource("resolve", "conflict", "", err)
	}

	logging.FromContext(ctx).Info().
		Int("requested", len(ids)).
		Int("modified", n).
		Str("action", string(action)).
		Str("actor", actorID).
		Msg("Conflicts bulk resolved")
	return n, nil
}

// CanAutoResolve reports whether the rule table would auto-resolve c.
func (s *Service) CanAutoResolve(c *Conflict) bool {
	if c.IsTerminal() {
		return false
	}
	_, ok := s.rules.Match(c)
	return ok
}

// AutoResolveResult summarizes an AutoResolve call.
type AutoResolveResult struct {
	Resolved    int      `json:"resolved" yaml:"resolved"`
	Skipped     int      `json:"skipped" yaml:"skipped"`
	ResolvedIDs []string `json:"resolved_ids,omitempty" yaml:"resolved_ids,omitempty"`
}

// AutoResolve applies the rule table to each conflict in ids. Eligible
// conflicts move to AUTO_RESOLVED under the system resolver; the rest,
// including unknown ids and conflicts resolved concurrently, are skipped.
func (s *Service) AutoResolve(ctx context.Context, ids []string) (AutoResolveResult, error) {
	var result AutoResolveResult
	ctx = logging.WithOperation(ctx, "auto_resolve")
	logger := logging.FromContext(ctx)

	for _, id := range dedupe(ids) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		c, err := s.store.GetConflict(ctx, id)
		if errors.IsNotFound(err) {
			result.Skipped++
			continue
		}
		if err != nil {
			return result, err
		}
		ok, err := s.autoResolve(ctx, c)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Resolved++
		result.ResolvedIDs = append(result.ResolvedIDs, id)
	}

	logger.Info().
		Int("resolved", result.Resolved).
		Int("skipped", result.Skipped).
		Msg("Auto-resolve finished")
	return result, nil
}

// AutoResolvePending applies the rule table to up to limit pending conflicts,
// oldest pages first as returned by the store.
func (s *Service) AutoResolvePending(ctx context.Context, limit int) (AutoResolveResult, error) {
	pending, err := s.store.ListConflicts(ctx, Filter{Status: StatusPending, Limit: pageSize(limit)})
	if err != nil {
		return AutoResolveResult{}, err
	}
	ids := make([]string, 0, len(pending))
	for _, c := range pending {
		if s.CanAutoResolve(c) {
			ids = append(ids, c.ID)
		}
	}
	result, err := s.AutoResolve(ctx, ids)
	result.Skipped += len(pending) - len(ids)
	return result, err
}

func (s *Service) autoResolve(ctx context.Context, c *Conflict) (bool, error) {
	if c.IsTerminal() {
		return false, nil
	}
	rule, ok := s.rules.Match(c)
	if !ok {
		return false, nil
	}
	res := Resolution{
		Action:     rule.Action,
		ResolvedBy: constants.SystemResolverID,
		ResolvedAt: s.now(),
		Notes:      fmt.Sprintf("Auto-resolved: %s", rule.Reason),
	}
	if err := c.transition(StatusAutoResolved, res); err != nil {
		return false, err
	}
	ok, err := s.store.ResolveConflict(ctx, c.ID, StatusAutoResolved, res)
	if err != nil {
		return false, errors.WrapResource("resolve", "conflict", c.ID, err)
	}
	return ok, nil
}

// transition applies a manual resolution with compare-and-set semantics.
func (s *Service) transition(ctx context.Context, id string, status Status, res Resolution) (*Conflict, error) {
	c, err := s.store.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.transition(status, res); err != nil {
		return nil, err
	}
	ok, err := s.store.ResolveConflict(ctx, id, status, res)
	if err != nil {
		return nil, errors.WrapResource("resolve", "conflict", id, err)
	}
	if !ok {
		current, err := s.store.GetConflict(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, errors.NewTransitionError("conflict", id, string(current.Status), string(status))
	}
	return c, nil
}

// ListPending returns pending conflicts matching f's severity, type and
// email, up to f.Limit.
func (s *Service) ListPending(ctx context.Context, f Filter) ([]*Conflict, error) {
	f.Status = StatusPending
	return s.List(ctx, f)
}

// ListCritical returns pending critical conflicts.
func (s *Service) ListCritical(ctx context.Context, limit int) ([]*Conflict, error) {
	return s.List(ctx, Filter{Status: StatusPending, Severity: SeverityCritical, Limit: limit})
}

// ListStale returns pending conflicts detected more than days ago. A
// non-positive days uses the default of seven.
func (s *Service) ListStale(ctx context.Context, days, limit int) ([]*Conflict, error) {
	if days <= 0 {
		days = constants.DefaultStaleConflictDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	return s.List(ctx, Filter{Status: StatusPending, DetectedBefore: cutoff, Limit: limit})
}

// Counts aggregates conflicts by status and by type.
type Counts struct {
	Total      int              `json:"total" yaml:"total"`
	ByStatus   map[Status]int   `json:"by_status" yaml:"by_status"`
	ByType     map[Type]int     `json:"by_type" yaml:"by_type"`
	BySeverity map[Severity]int `json:"by_severity" yaml:"by_severity"`
}

// Counts returns aggregate counts over conflicts matching f.
func (s *Service) Counts(ctx context.Context, f Filter) (Counts, error) {
	if err := validateFilter(f); err != nil {
		return Counts{}, err
	}
	groups, err := s.store.CountConflicts(ctx, f)
	if err != nil {
		return Counts{}, err
	}
	return Tally(groups), nil
}

// Tally folds grouped counts into Counts. Every known status, type and
// severity is present in the maps, zero if absent from groups.
func Tally(groups []GroupCount) Counts {
	c := Counts{
		ByStatus:   make(map[Status]int),
		ByType:     make(map[Type]int),
		BySeverity: make(map[Severity]int),
	}
	for _, st := range Statuses() {
		c.ByStatus[st] = 0
	}
	for _, t := range Types() {
		c.ByType[t] = 0
	}
	for _, sev := range Severities() {
		c.BySeverity[sev] = 0
	}
	for _, g := range groups {
		c.Total += g.Count
		c.ByStatus[g.Status] += g.Count
		c.ByType[g.Type] += g.Count
		c.BySeverity[g.Severity] += g.Count
	}
	return c
}

func validateFilter(f Filter) error {
	if f.Status != "" && !f.Status.IsValid() {
		return errors.NewValidationError("status", f.Status, "unknown status")
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		return errors.NewValidationError("severity", f.Severity, "unknown severity")
	}
	if f.Type != "" && !f.Type.IsValid() {
		return errors.NewValidationError("type", f.Type, "unknown conflict type")
	}
	if f.Limit < 0 || f.Offset < 0 {
		return errors.NewValidationError("limit", f.Limit, "pagination must not be negative")
	}
	return nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return constants.DefaultPageSize
	case limit > constants.MaxPageSize:
		return constants.MaxPageSize
	}
	return limit
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
