package limiter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicies_OrderedByRank(t *testing.T) {
	table := DefaultPolicies()
	plans := table.Plans()
	require.Equal(t, []Plan{PlanFree, PlanPro, PlanEnterprise}, plans)

	for i := 1; i < len(plans); i++ {
		lower, err := table.PolicyFor(plans[i-1])
		require.NoError(t, err)
		higher, err := table.PolicyFor(plans[i])
		require.NoError(t, err)

		assert.GreaterOrEqual(t, higher.Quota, lower.Quota, "%s quota below %s", plans[i], plans[i-1])
		assert.GreaterOrEqual(t, higher.Window, lower.Window, "%s window below %s", plans[i], plans[i-1])
	}
}

func TestPolicyFor_UnknownPlan(t *testing.T) {
	_, err := DefaultPolicies().PolicyFor("platinum")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPlan))
	assert.Contains(t, err.Error(), `"platinum"`)
}

func TestPlans_ReturnsCopy(t *testing.T) {
	table := DefaultPolicies()
	plans := table.Plans()
	plans[0] = "mutated"
	assert.Equal(t, PlanFree, table.Plans()[0])
}

func TestNewPolicyTable_Invalid(t *testing.T) {
	minute := time.Minute
	tests := []struct {
		name    string
		entries []PlanPolicy
	}{
		{"empty", nil},
		{"no name", []PlanPolicy{{Plan: "", Policy: Policy{Quota: 1, Window: minute}}}},
		{"zero quota", []PlanPolicy{{Plan: "a", Policy: Policy{Quota: 0, Window: minute}}}},
		{"negative window", []PlanPolicy{{Plan: "a", Policy: Policy{Quota: 1, Window: -minute}}}},
		{"duplicate", []PlanPolicy{
			{Plan: "a", Policy: Policy{Quota: 1, Window: minute}},
			{Plan: "a", Policy: Policy{Quota: 2, Window: minute}},
		}},
		{"quota decreases", []PlanPolicy{
			{Plan: "a", Policy: Policy{Quota: 10, Window: minute}},
			{Plan: "b", Policy: Policy{Quota: 5, Window: minute}},
		}},
		{"window decreases", []PlanPolicy{
			{Plan: "a", Policy: Policy{Quota: 10, Window: time.Hour}},
			{Plan: "b", Policy: Policy{Quota: 10, Window: minute}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicyTable(tt.entries...)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestNewPolicyTable_EqualRanksAllowed(t *testing.T) {
	table, err := NewPolicyTable(
		PlanPolicy{Plan: "basic", Policy: Policy{Quota: 10, Window: time.Minute}},
		PlanPolicy{Plan: "basic_plus", Policy: Policy{Quota: 10, Window: time.Minute}},
	)
	require.NoError(t, err)

	p, err := table.PolicyFor("basic_plus")
	require.NoError(t, err)
	assert.Equal(t, Policy{Quota: 10, Window: time.Minute}, p)
}
