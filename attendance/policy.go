package attendance

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// =============================================================================
// POLICY - Thresholds over a subject's attendance history
// =============================================================================

// RuleType names what a policy counts.
type RuleType string

const (
	RuleTotalLate       RuleType = "total_late"       // daily late
	RuleUnexcusedAbsent RuleType = "unexcused_absent" // daily absent
	RuleTotalAbsent     RuleType = "total_absent"     // daily absent + excused
	RulePeriodAbsent    RuleType = "period_absent"    // absent period records (students)
	RuleTotalHalfDay    RuleType = "total_half_day"   // daily half_day
)

var allRuleTypes = []RuleType{
	RuleTotalLate, RuleUnexcusedAbsent, RuleTotalAbsent, RulePeriodAbsent, RuleTotalHalfDay,
}

// ParseRuleType accepts canonical values and the CamelCase forms ("TotalLate").
func ParseRuleType(s string) (RuleType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, rt := range allRuleTypes {
		if norm == string(rt) || norm == strings.ReplaceAll(string(rt), "_", "") {
			return rt, nil
		}
	}
	return "", invalid("rule_type", "unknown rule type %q", s)
}

func (r RuleType) Valid() bool {
	for _, rt := range allRuleTypes {
		if r == rt {
			return true
		}
	}
	return false
}

// Policy is read-only configuration: once a subject reaches Threshold
// qualifying events, the consequence should fire.
type Policy struct {
	ID               PolicyID
	Name             string
	RuleType         RuleType
	Threshold        int
	ConsequenceType  string // e.g. "warning_letter", "parent_meeting"
	ConsequenceValue string
	IsActive         bool
}

func (p Policy) Validate() error {
	if p.ID == "" {
		return invalid("id", "required")
	}
	if !p.RuleType.Valid() {
		return invalid("rule_type", "unknown rule type %q", p.RuleType)
	}
	if p.Threshold < 1 {
		return invalid("threshold", "must be at least 1, got %d", p.Threshold)
	}
	if p.ConsequenceType == "" {
		return invalid("consequence_type", "required")
	}
	return nil
}

// Triggered is a policy whose threshold a subject has reached.
type Triggered struct {
	Policy Policy
	Count  int
}

// ConsequenceHandler applies a triggered policy (warning letters, meetings).
// Implemented outside the engine.
type ConsequenceHandler interface {
	Apply(ctx context.Context, subjectID SubjectID, kind SubjectKind, t Triggered) error
}

// =============================================================================
// EVALUATOR
// =============================================================================

type Evaluator struct {
	store   Store
	handler ConsequenceHandler // optional
}

func NewEvaluator(store Store, handler ConsequenceHandler) *Evaluator {
	return &Evaluator{store: store, handler: handler}
}

// SavePolicy validates and stores a policy.
func (e *Evaluator) SavePolicy(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return e.store.SavePolicy(ctx, p)
}

func (e *Evaluator) Policies(ctx context.Context, activeOnly bool) ([]Policy, error) {
	return e.store.ListPolicies(ctx, activeOnly)
}

// EvaluatePolicies returns how many active policies the subject has triggered.
func (e *Evaluator) EvaluatePolicies(ctx context.Context, subjectID SubjectID, kind SubjectKind) (int, error) {
	triggered, err := e.Evaluate(ctx, subjectID, kind)
	if err != nil {
		return 0, err
	}
	return len(triggered), nil
}

// Evaluate counts the subject's whole history against every active policy.
// Handler failures are logged; they never fail the evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, subjectID SubjectID, kind SubjectKind) ([]Triggered, error) {
	if subjectID == "" {
		return nil, invalid("subject_id", "required")
	}
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	policies, err := e.store.ListPolicies(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	if len(policies) == 0 {
		return nil, nil
	}

	counts, err := e.countHistory(ctx, subjectID, kind)
	if err != nil {
		return nil, err
	}

	var out []Triggered
	for _, p := range policies {
		n := counts[p.RuleType]
		if n < p.Threshold {
			continue
		}
		t := Triggered{Policy: p, Count: n}
		out = append(out, t)
		if e.handler != nil {
			if err := e.handler.Apply(ctx, subjectID, kind, t); err != nil {
				log.Printf("[Policy] Consequence %s for %s failed: %v", p.ID, subjectID, err)
			}
		}
	}
	return out, nil
}

func (e *Evaluator) countHistory(ctx context.Context, subjectID SubjectID, kind SubjectKind) (map[RuleType]int, error) {
	daily, err := e.store.ListDailyBySubject(ctx, subjectID, kind, AllTime())
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	counts := make(map[RuleType]int)
	for _, r := range daily {
		switch r.Status {
		case StatusLate:
			counts[RuleTotalLate]++
		case StatusAbsent:
			counts[RuleUnexcusedAbsent]++
			counts[RuleTotalAbsent]++
		case StatusExcused:
			counts[RuleTotalAbsent]++
		case StatusHalfDay:
			counts[RuleTotalHalfDay]++
		}
	}

	if kind == KindStudent {
		periods, err := e.store.ListPeriodByStudent(ctx, subjectID, AllTime())
		if err != nil {
			return nil, fmt.Errorf("failed to read period history: %w", err)
		}
		for _, p := range periods {
			if p.Status == StatusAbsent {
				counts[RulePeriodAbsent]++
			}
		}
	}
	return counts, nil
}
