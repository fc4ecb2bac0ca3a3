package dataset

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	opts := HandleOptions{Logger: logger}
	reg, err := NewRegistry(logger,
		NewIPSetHandle(core.KindBlockIP, opts),
		NewTextSetHandle(core.KindBlockDomain, opts),
		NewGeoIPHandle(opts),
		NewRuleCatalogHandle(HandleOptions{Policy: BlockingPolicy(time.Second)}),
	)
	require.NoError(t, err)
	return reg
}

func TestRegistry_DuplicateKind(t *testing.T) {
	_, err := NewRegistry(nil,
		NewTextSetHandle(core.KindBlockDomain, HandleOptions{}),
		NewTextSetHandle(core.KindBlockDomain, HandleOptions{}),
	)
	assert.Error(t, err)
}

func TestRegistry_KindsSorted(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Equal(t, []core.DatasetKind{core.KindBlockIP, core.KindGeoIP, core.KindBlockDomain, core.KindRules}, reg.Kinds())
}

func TestRegistry_GetSnapshot(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, Publish(reg, core.KindBlockDomain, NewTextSet("evil.example")))

	set, err := GetSnapshot[TextSet](reg, core.KindBlockDomain)
	require.NoError(t, err)
	assert.True(t, set.Contains("evil.example"))

	_, err = GetSnapshot[IPSet](reg, core.KindBlockDomain)
	assert.ErrorIs(t, err, core.ErrDatasetTypeMismatch)

	_, err = GetSnapshot[TextSet](reg, core.KindWorkHours)
	assert.ErrorIs(t, err, core.ErrDatasetUnavailable)

	assert.ErrorIs(t, Publish(reg, core.KindBlockDomain, NewIPSet()), core.ErrDatasetTypeMismatch)
}

func TestRegistry_SubsetRestrictsAndShares(t *testing.T) {
	reg := newTestRegistry(t)
	sub := reg.Subset(core.KindBlockIP, core.KindWorkHours)

	assert.Equal(t, []core.DatasetKind{core.KindBlockIP}, sub.Kinds())
	assert.False(t, sub.Has(core.KindBlockDomain))

	_, err := sub.Get(core.KindBlockDomain)
	assert.ErrorIs(t, err, core.ErrDatasetUnavailable)

	// the subset shares handles with its parent
	require.NoError(t, Publish(reg, core.KindBlockIP, NewIPSet(netip.MustParseAddr("10.1.2.3"))))
	ok, err := sub.Match(core.KindBlockIP, "10.1.2.3")
	require.NoError(t, err)
	assert.True(t, ok)

	var nilReg *Registry
	assert.Equal(t, 0, nilReg.Subset(core.KindBlockIP).Len())
}

func TestRegistry_StartRunsConsumers(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- reg.Start(ctx) }()

	rule := &core.SiemRule{ID: "r1", Name: "rule one", Enabled: true}
	require.Eventually(t, func() bool {
		return SendCommand(ctx, reg, core.KindRules, Add[RuleCatalog](rule)) == nil
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		catalog, err := GetSnapshot[RuleCatalog](reg, core.KindRules)
		return err == nil && catalog.Len() == 1
	}, time.Second, 5*time.Millisecond)

	err := SendCommand(ctx, reg, core.KindRules, Add[TextSet]("wrong"))
	assert.ErrorIs(t, err, core.ErrDatasetTypeMismatch)

	cancel()
	assert.NoError(t, <-done)
}

func TestRegistry_CloseStopsConsumers(t *testing.T) {
	reg := newTestRegistry(t)
	done := make(chan error, 1)
	go func() { done <- reg.Start(context.Background()) }()

	reg.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumers did not stop after Close")
	}
}

func TestNew_AllTypes(t *testing.T) {
	for typ := core.DatasetIPSet; typ <= core.DatasetRuleCatalog; typ++ {
		kind := core.DatasetKind{Type: typ, Name: "x"}
		ds, err := New(kind, HandleOptions{})
		require.NoError(t, err, typ.String())
		assert.Equal(t, kind, ds.Kind())
		_, isMatcher := ds.Snapshot().(Matcher)
		assert.True(t, isMatcher, typ.String())
	}

	_, err := New(core.DatasetKind{Type: 99}, HandleOptions{})
	assert.Error(t, err)
}
