package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_EmptyName(t *testing.T) {
	b := newTestBus(t, Options{})
	err := b.Register("  ", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_Idempotent(t *testing.T) {
	b := newTestBus(t, Options{})
	require.NoError(t, b.Register("coder", []string{"go"}, map[string]any{"model": "small"}))
	first, err := b.Agent("coder")
	require.NoError(t, err)

	_, err = b.IncrementLoad("coder")
	require.NoError(t, err)
	_, err = b.IncrementLoad("coder")
	require.NoError(t, err)
	b.agents["coder"].DelegationHistory = []string{"coder"}

	require.NoError(t, b.Register("coder", []string{"go", "sql"}, map[string]any{"model": "large"}))

	got, err := b.Agent("coder")
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "sql"}, got.Capabilities)
	assert.Equal(t, "large", got.Metadata["model"])
	assert.Equal(t, 2, got.Load)
	assert.Equal(t, []string{"coder"}, got.DelegationHistory)
	assert.True(t, got.LastSeen.After(first.LastSeen))
	assert.Equal(t, first.RegisteredAt, got.RegisteredAt)
	assert.Len(t, b.Agents(), 1)
}

func TestRegister_CopiesInputs(t *testing.T) {
	b := newTestBus(t, Options{})
	caps := []string{"go"}
	meta := map[string]any{"k": "v"}
	require.NoError(t, b.Register("a", caps, meta))
	caps[0] = "mutated"
	meta["k"] = "mutated"

	got, err := b.Agent("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, got.Capabilities)
	assert.Equal(t, "v", got.Metadata["k"])
	assert.True(t, got.HasCapability("go"))
}

func TestAgents_RegistrationOrder(t *testing.T) {
	b := newTestBus(t, Options{})
	register(t, b, "zeta", "alpha", "mid")
	var names []string
	for _, a := range b.Agents() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestLoadCounters(t *testing.T) {
	b := newTestBus(t, Options{})
	register(t, b, "a")

	n, err := b.IncrementLoad("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	load, err := b.Load("a")
	require.NoError(t, err)
	assert.Equal(t, 1, load)

	require.NoError(t, b.ResetLoad("a"))
	load, err = b.Load("a")
	require.NoError(t, err)
	assert.Zero(t, load)
}

func TestUnknownAgentOperations(t *testing.T) {
	b := newTestBus(t, Options{})

	_, err := b.Load("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	_, err = b.IncrementLoad("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.ErrorIs(t, b.ResetLoad("ghost"), ErrUnknownAgent)
	_, err = b.DelegationHistory("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	_, err = b.Agent("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestLeastLoadedOtherThan(t *testing.T) {
	b := newTestBus(t, Options{})

	_, ok := b.LeastLoadedOtherThan("x")
	assert.False(t, ok, "empty registry has no candidate")

	register(t, b, "x")
	_, ok = b.LeastLoadedOtherThan("x")
	assert.False(t, ok, "only the excluded agent is registered")

	register(t, b, "y", "z")
	got, ok := b.LeastLoadedOtherThan("x")
	require.True(t, ok)
	assert.Equal(t, "y", got, "ties go to earliest registration")

	_, err := b.IncrementLoad("y")
	require.NoError(t, err)
	got, _ = b.LeastLoadedOtherThan("x")
	assert.Equal(t, "z", got)
}
