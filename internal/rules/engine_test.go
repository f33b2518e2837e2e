package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/rulebook/internal/types"
)

func seniorsCatalog(threshold int) types.RulesCatalog {
	return types.RulesCatalog{
		Name: "seniors",
		Sets: []types.RulesSet{{Rules: []types.Rule{
			{Property: "Age", Operator: types.OpGreaterThan, Value: threshold},
		}}},
	}
}

func TestEngine_InstallAndMatch(t *testing.T) {
	engine := NewEngine[record](nil)

	compiled, err := engine.Install(seniorsCatalog(65))
	require.NoError(t, err)
	require.NotNil(t, compiled)

	matched, err := engine.Matches("seniors", record{Age: intPtr(70)})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = engine.Matches("seniors", record{Age: intPtr(40)})
	require.NoError(t, err)
	assert.False(t, matched)

	ex, err := engine.Explain("seniors", record{Age: intPtr(40)})
	require.NoError(t, err)
	assert.False(t, ex.Satisfied)
	assert.Equal(t, []string{"Age must be greater than 65"}, ex.Messages())

	assert.Equal(t, []string{"seniors"}, engine.Names())
}

func TestEngine_UnknownCatalog(t *testing.T) {
	engine := NewEngine[record](nil)

	_, err := engine.Matches("missing", record{})
	assert.ErrorIs(t, err, types.ErrCatalogNotFound)

	_, err = engine.Explain("missing", record{})
	assert.ErrorIs(t, err, types.ErrCatalogNotFound)

	_, err = engine.Catalog("missing")
	assert.ErrorIs(t, err, types.ErrCatalogNotFound)

	assert.ErrorIs(t, engine.Remove("missing"), types.ErrCatalogNotFound)
}

func TestEngine_InstallRequiresName(t *testing.T) {
	engine := NewEngine[record](nil)

	_, err := engine.Install(types.RulesCatalog{})
	assert.ErrorIs(t, err, types.ErrCatalogNameRequired)
	assert.Empty(t, engine.Names())
}

func TestEngine_ReplaceDoesNotMutatePublished(t *testing.T) {
	engine := NewEngine[record](nil)

	_, err := engine.Install(seniorsCatalog(65))
	require.NoError(t, err)
	old, err := engine.Catalog("seniors")
	require.NoError(t, err)

	_, err = engine.Install(seniorsCatalog(30))
	require.NoError(t, err)
	current, err := engine.Catalog("seniors")
	require.NoError(t, err)

	item := record{Age: intPtr(40)}
	assert.False(t, old.Matches(item), "previous version must keep its semantics")
	assert.True(t, current.Matches(item))
	assert.NotSame(t, old, current)
}

func TestEngine_Remove(t *testing.T) {
	engine := NewEngine[record](nil)

	_, err := engine.Install(seniorsCatalog(65))
	require.NoError(t, err)
	require.NoError(t, engine.Remove("seniors"))

	_, err = engine.Catalog("seniors")
	assert.ErrorIs(t, err, types.ErrCatalogNotFound)
	assert.Empty(t, engine.Names())
}

func TestEngine_SkippedSetsStillInstall(t *testing.T) {
	engine := NewEngine[record](nil)

	compiled, err := engine.Install(types.RulesCatalog{
		Name: "mixed",
		Sets: []types.RulesSet{
			{Rules: []types.Rule{{Property: "Unknown", Operator: types.OpIsNull}}},
			{Rules: []types.Rule{{Property: "Country", Operator: types.OpEqual, Value: "IT"}}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, compiled.Skipped(), 1)

	matched, err := engine.Matches("mixed", record{Country: "IT"})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestEngine_ConcurrentReadersDuringSwap(t *testing.T) {
	engine := NewEngine[record](nil)
	_, err := engine.Install(seniorsCatalog(65))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c, err := engine.Catalog("seniors")
				if err != nil {
					t.Error(err)
					return
				}
				// Either version is acceptable; a torn read is not.
				c.Matches(record{Age: intPtr(j % 100)})
			}
		}()
	}

	for i := 0; i < 50; i++ {
		_, err := engine.Install(seniorsCatalog(i))
		require.NoError(t, err)
	}
	wg.Wait()
}
