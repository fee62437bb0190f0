package limiter

import (
	"fmt"
	"time"
)

// PlanPolicy binds a policy to a plan inside a PolicyTable.
type PlanPolicy struct {
	Plan   Plan
	Policy Policy
}

// PolicyTable maps plans to policies. It is immutable once built.
type PolicyTable struct {
	order    []Plan
	policies map[Plan]Policy
}

// NewPolicyTable builds a table from entries listed in ascending rank.
// Quotas and windows must be positive and must not decrease with rank.
func NewPolicyTable(entries ...PlanPolicy) (*PolicyTable, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no plans", ErrInvalidPolicy)
	}

	t := &PolicyTable{
		order:    make([]Plan, 0, len(entries)),
		policies: make(map[Plan]Policy, len(entries)),
	}
	for i, e := range entries {
		if e.Plan == "" {
			return nil, fmt.Errorf("%w: plan at rank %d has no name", ErrInvalidPolicy, i)
		}
		if _, dup := t.policies[e.Plan]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidPolicy, e.Plan)
		}
		if e.Policy.Quota <= 0 || e.Policy.Window <= 0 {
			return nil, fmt.Errorf("%w: plan %q needs a positive quota and window", ErrInvalidPolicy, e.Plan)
		}
		if i > 0 {
			prev := entries[i-1]
			if e.Policy.Quota < prev.Policy.Quota {
				return nil, fmt.Errorf("%w: plan %q quota %d is below %q quota %d",
					ErrInvalidPolicy, e.Plan, e.Policy.Quota, prev.Plan, prev.Policy.Quota)
			}
			if e.Policy.Window < prev.Policy.Window {
				return nil, fmt.Errorf("%w: plan %q window %s is shorter than %q window %s",
					ErrInvalidPolicy, e.Plan, e.Policy.Window, prev.Plan, prev.Policy.Window)
			}
		}
		t.order = append(t.order, e.Plan)
		t.policies[e.Plan] = e.Policy
	}
	return t, nil
}

// DefaultPolicies returns the built-in free/pro/enterprise table.
func DefaultPolicies() *PolicyTable {
	t, err := NewPolicyTable(
		PlanPolicy{Plan: PlanFree, Policy: Policy{Quota: 100, Window: time.Minute}},
		PlanPolicy{Plan: PlanPro, Policy: Policy{Quota: 1000, Window: time.Minute}},
		PlanPolicy{Plan: PlanEnterprise, Policy: Policy{Quota: 10000, Window: time.Minute}},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// PolicyFor returns the policy for plan, or ErrUnknownPlan.
func (t *PolicyTable) PolicyFor(plan Plan) (Policy, error) {
	p, ok := t.policies[plan]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return p, nil
}

// Plans lists the plans in ascending rank.
func (t *PolicyTable) Plans() []Plan {
	out := make([]Plan, len(t.order))
	copy(out, t.order)
	return out
}
