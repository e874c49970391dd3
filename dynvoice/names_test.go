package dynvoice

import (
	"math/rand"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNameFS() fstest.MapFS {
	return fstest.MapFS{
		"planets.txt": {Data: []byte("Mars\nVenus\n\nMars\n")},
		"colors.txt":  {Data: []byte("Red\nBlue\n")},
		"empty.txt":   {Data: []byte("\n\n")},
		"readme.md":   {Data: []byte("not a list")},
	}
}

func TestLoadNameLists(t *testing.T) {
	t.Parallel()
	n, err := LoadNameLists(testNameFS(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"colors", "planets"}, n.random)
	assert.Equal(t, []string{"Mars", "Venus"}, n.lists["planets"])
	assert.Equal(t, []string{"mars", "venus"}, n.allowed["planets"])
	assert.NotContains(t, n.lists, "empty")

	selected, err := LoadNameLists(testNameFS(), []string{"planets"})
	require.NoError(t, err)
	assert.Equal(t, []string{"planets"}, selected.random)

	_, err = LoadNameLists(testNameFS(), []string{"nope"})
	assert.Error(t, err)

	_, err = LoadNameLists(fstest.MapFS{}, nil)
	assert.Error(t, err)
}

func TestDefaultNameLists(t *testing.T) {
	t.Parallel()
	n, err := DefaultNameLists()
	require.NoError(t, err)
	assert.Contains(t, n.lists, "planets")
	assert.Contains(t, n.lists, "animals")
}

func TestNameLists_ListForDayIsStable(t *testing.T) {
	t.Parallel()
	n, err := LoadNameLists(testNameFS(), nil)
	require.NoError(t, err)

	morning := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, n.ListForDay("guild", morning), n.ListForDay("guild", evening))
	assert.Contains(t, n.random, n.ListForDay("guild", morning))
}

func TestNameLists_RandomName(t *testing.T) {
	t.Parallel()
	n, err := LoadNameLists(testNameFS(), nil)
	require.NoError(t, err)
	rnd := rand.New(rand.NewSource(1))
	now := time.Now()

	name := n.RandomName("guild", now, nil, rnd)
	assert.Contains(t, []string{"Mars", "Venus", "Red", "Blue"}, name)

	// today's list is exhausted, so names come from the other list
	today := n.ListForDay("guild", now)
	avoid := map[string]bool{}
	for _, w := range n.lists[today] {
		avoid[w] = true
	}
	name = n.RandomName("guild", now, avoid, rnd)
	assert.NotContains(t, n.lists[today], name)
	assert.NotEmpty(t, name)

	all := map[string]bool{"Mars": true, "Venus": true, "Red": true, "Blue": true}
	assert.Equal(t, "Voice 1", n.RandomName("guild", now, all, rnd))
	all["Voice 1"] = true
	assert.Equal(t, "Voice 2", n.RandomName("guild", now, all, rnd))
}

func TestCheckName(t *testing.T) {
	t.Parallel()
	allowed := map[string][]string{
		"planets": {"mars", "venus"},
		"colors":  {"red", "blue"},
	}
	tests := []struct {
		name      string
		requireWS bool
		expected  bool
	}{
		{name: "Mars", expected: true},
		{name: "Red Mars", expected: true},
		{name: "RedMars", expected: true},
		{name: "RedMars", requireWS: true, expected: false},
		{name: "Red  Mars ", requireWS: true, expected: true},
		{name: "Pluto", expected: false},
		{name: "Mars!", expected: false},
		{name: "", expected: false},
	}
	for _, tc := range tests {
		assert.Equalf(
			t,
			tc.expected,
			CheckName(tc.name, allowed, tc.requireWS),
			"CheckName(%q, requireWS=%v)",
			tc.name,
			tc.requireWS,
		)
	}
}

func TestFindNameParts(t *testing.T) {
	t.Parallel()
	allowed := map[string][]string{
		"a": {"sun", "sunset"},
		"b": {"set"},
	}
	parts := FindNameParts("Sunset", allowed, false)
	assert.ElementsMatch(
		t,
		[][]NamePart{
			{{List: "a", Word: "sun"}, {List: "b", Word: "set"}},
			{{List: "a", Word: "sunset"}},
		},
		parts,
	)

	parts = FindNameParts("Sunset", allowed, true)
	assert.Equal(t, [][]NamePart{{{List: "a", Word: "sunset"}}}, parts)

	assert.Empty(t, FindNameParts("moon", allowed, false))
}

func TestNameLists_Allowed(t *testing.T) {
	t.Parallel()
	n, err := LoadNameLists(testNameFS(), nil)
	require.NoError(t, err)

	allowed := n.Allowed([]string{"Pluto"})
	assert.Equal(t, []string{"pluto"}, allowed[customNameList])
	assert.Equal(t, []string{"red", "blue"}, allowed["colors"])

	assert.NotContains(t, n.Allowed(nil), customNameList)
}
