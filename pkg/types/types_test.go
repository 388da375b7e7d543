package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointKey(t *testing.T) {
	a := Endpoint{Method: "GET", URL: "https://example.test/items", Parameters: []string{"id", "page"}}
	b := Endpoint{Method: "GET", URL: "https://example.test/items", Parameters: []string{"page", "id"}}

	assert.Equal(t, a.Key(), b.Key(), "parameter order must not affect identity")

	c := Endpoint{Method: "POST", URL: "https://example.test/items", Parameters: []string{"id", "page"}}
	assert.NotEqual(t, a.Key(), c.Key(), "method is part of identity")
}

func TestAttackSurfaceDedup(t *testing.T) {
	surface := NewAttackSurface()

	added := surface.Add(Endpoint{Method: "GET", URL: "https://example.test/", Parameters: nil})
	require.True(t, added)

	// Same endpoint reached via a second link.
	added = surface.Add(Endpoint{Method: "GET", URL: "https://example.test/", Parameters: nil})
	assert.False(t, added)
	assert.Equal(t, 1, surface.Len())

	added = surface.Add(Endpoint{Method: "POST", URL: "https://example.test/", Parameters: []string{"user", "pass"}})
	require.True(t, added)
	assert.Equal(t, 2, surface.Len())
}

func TestAttackSurfacePreservesInsertionOrder(t *testing.T) {
	surface := NewAttackSurface()
	surface.Add(Endpoint{Method: "GET", URL: "https://example.test/b"})
	surface.Add(Endpoint{Method: "GET", URL: "https://example.test/a"})
	surface.Add(Endpoint{Method: "GET", URL: "https://example.test/c"})

	endpoints := surface.Endpoints()
	require.Len(t, endpoints, 3)
	assert.Equal(t, "https://example.test/b", endpoints[0].URL)
	assert.Equal(t, "https://example.test/a", endpoints[1].URL)
	assert.Equal(t, "https://example.test/c", endpoints[2].URL)
}

func TestAttackSurfaceEndpointsReturnsCopy(t *testing.T) {
	surface := NewAttackSurface()
	surface.Add(Endpoint{Method: "GET", URL: "https://example.test/"})

	endpoints := surface.Endpoints()
	endpoints[0].URL = "https://tampered.test/"

	assert.Equal(t, "https://example.test/", surface.Endpoints()[0].URL)
}

func TestAttackPlanCategoriesCollapseDuplicates(t *testing.T) {
	plan := AttackPlan{
		Attacks: []PlannedAttack{
			{Type: AttackAuth},
			{Type: AttackXSS},
			{Type: AttackAuth},
		},
	}

	categories := plan.Categories()
	assert.Equal(t, []AttackType{AttackAuth, AttackXSS}, categories)
	assert.True(t, plan.Contains(AttackAuth))
	assert.False(t, plan.Contains(AttackIDOR))
}

func TestEmptySurface(t *testing.T) {
	var surface *AttackSurface
	assert.True(t, surface.IsEmpty())
	assert.Nil(t, surface.Endpoints())

	surface = NewAttackSurface()
	assert.True(t, surface.IsEmpty())
}
