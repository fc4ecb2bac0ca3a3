package detect

import (
	"net/netip"
	"testing"
	"time"

	"argus/core"
	"argus/correlation"
	"argus/dataset"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock for engine tests
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	registry *dataset.Registry
	catalog  *dataset.Handle[dataset.RuleCatalog, *core.SiemRule]
	blockIP  *dataset.Handle[dataset.IPSet, netip.Addr]
	domains  *dataset.Handle[dataset.TextSet, string]
	geo      *dataset.Handle[dataset.GeoIP, dataset.GeoIPEntry]
	i18n     *dataset.Handle[dataset.I18n, dataset.I18nEntry]
	store    *correlation.MemoryStore
	clock    *testClock
	engine   *Engine
}

func newTestEnv(t *testing.T, rules ...*core.SiemRule) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	opts := dataset.HandleOptions{Logger: logger}

	env := &testEnv{
		catalog: dataset.NewRuleCatalogHandle(opts),
		blockIP: dataset.NewIPSetHandle(core.KindBlockIP, opts),
		domains: dataset.NewTextSetHandle(core.KindBlockDomain, opts),
		geo:     dataset.NewGeoIPHandle(opts),
		i18n:    dataset.NewI18nHandle(opts),
		store:   correlation.NewMemoryStore(correlation.MemoryOptions{Logger: logger}),
		clock:   &testClock{now: testEpoch},
	}

	reg, err := dataset.NewRegistry(logger, env.catalog, env.blockIP, env.domains, env.geo, env.i18n)
	require.NoError(t, err)
	env.registry = reg
	env.setRules(t, rules...)
	env.engine = NewEngine(reg, env.store, logger, WithClock(env.clock.Now))
	return env
}

func (env *testEnv) setRules(t *testing.T, rules ...*core.SiemRule) {
	t.Helper()
	compiled := make([]*core.SiemRule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, mustCompile(t, r))
	}
	env.catalog.Publish(dataset.NewRuleCatalog(compiled...))
}

func mustCompile(t *testing.T, rule *core.SiemRule) *core.SiemRule {
	t.Helper()
	compiled, err := core.CompileRule(rule, nil)
	require.NoError(t, err)
	return compiled
}

func newEvent(fields map[string]interface{}) *core.Event {
	e := core.NewEvent()
	e.Timestamp = testEpoch
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

func cond(field string, op core.RuleOperator) core.RuleCondition {
	return core.RuleCondition{Field: field, Operator: op}
}

func subrule(conds ...core.RuleCondition) core.SiemSubRule {
	return core.SiemSubRule{Conditions: conds}
}

func alertIDs(alerts []*core.SiemAlert) []string {
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.RuleID)
	}
	return ids
}
