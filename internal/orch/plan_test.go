package orch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan_FoundationAndFeatures(t *testing.T) {
	doc := `# Payments design

Some prose about the system.

## Foundation

- Database schema and migrations

## Features

- Payments API
- Billing UI
* Refund flow

## Risks

- none worth noting
`

	plan, err := ParsePlan(doc)
	require.NoError(t, err)
	require.NotNil(t, plan.Foundation)
	assert.Equal(t, "Database schema and migrations", plan.Foundation.Title)
	assert.Equal(t, "database-schema-and-migrations", plan.Foundation.Slug)

	require.Len(t, plan.Features, 3)
	assert.Equal(t, "Payments API", plan.Features[0].Title)
	assert.Equal(t, "payments-api", plan.Features[0].Slug)
	assert.Equal(t, "Refund flow", plan.Features[2].Title)
}

func TestParsePlan_FeaturesOnly(t *testing.T) {
	doc := "## Features\n- Single feature\n"
	plan, err := ParsePlan(doc)
	require.NoError(t, err)
	assert.Nil(t, plan.Foundation)
	require.Len(t, plan.Features, 1)
}

func TestParsePlan_SecondFoundationBulletIgnored(t *testing.T) {
	doc := "## Foundation\n- First\n- Second\n## Features\n- F\n"
	plan, err := ParsePlan(doc)
	require.NoError(t, err)
	assert.Equal(t, "First", plan.Foundation.Title)
}

func TestParsePlan_Empty(t *testing.T) {
	_, err := ParsePlan("# just prose, no plan sections")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "payments-api", Slugify("Payments API"))
	assert.Equal(t, "fix-the-thing", Slugify("  Fix the thing!  "))
	long := Slugify("A very long title that should be truncated because branches have limits")
	assert.LessOrEqual(t, len(long), 40)
}
