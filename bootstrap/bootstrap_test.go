package bootstrap

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"argus/config"
	"argus/core"
	"argus/correlation"
	"argus/dataset"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const blockedLoginRule = `
id: blocked-ip-login
name: Login from blocked address
subrules:
  blocked:
    conditions:
      - field: event.action
        operator: {equals: login}
      - field: source.ip
        operator: {in_dataset: "ip_set:block_ip"}
alert:
  severity: high
`

const whoamiSigma = `
title: Whoami Execution
id: sigma-whoami
status: test
level: low
logsource:
  category: process_creation
detection:
  selection:
    Image|endswith: '\whoami.exe'
  condition: selection
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Workers = 2
	cfg.Correlation.SweepInterval = 0

	nativeDir, sigmaDir, feedDir := t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, nativeDir, "blocked.yaml", blockedLoginRule)
	writeFile(t, sigmaDir, "whoami.yml", whoamiSigma)
	cfg.Rules.NativeDir = nativeDir
	cfg.Rules.SigmaDir = sigmaDir

	cfg.Datasets.Sources = []config.SourceConfig{{
		Kind: "ip_set:block_ip",
		Path: writeFile(t, feedDir, "block.txt", "198.51.100.9\n"),
	}}
	return cfg
}

func TestInitLogger(t *testing.T) {
	logger, sugar, err := InitLogger("warn")
	require.NoError(t, err)
	assert.NotNil(t, sugar)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	_, _, err = InitLogger("loud")
	assert.Error(t, err)
}

func TestInitRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Datasets.Kinds = []config.DatasetConfig{
		{Kind: "calendar:work_hours", Policy: config.PolicyBlocking, Timeout: time.Second},
		{Kind: "rule_catalog", Policy: config.PolicyLossy},
	}
	cfg.Datasets.Sources = []config.SourceConfig{{Kind: "text_set:block_domain", Path: "/tmp/x"}}

	reg, err := InitRegistry(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)

	for _, kind := range []core.DatasetKind{core.KindRules, core.KindI18n, core.KindGeoIP, core.KindWorkHours, core.KindBlockDomain} {
		assert.True(t, reg.Has(kind), kind.String())
	}
	assert.Equal(t, 5, reg.Len())

	ds, ok := reg.Lookup(core.KindWorkHours)
	require.True(t, ok)
	assert.Equal(t, dataset.BlockingPolicy(time.Second), ds.Policy())

	ds, ok = reg.Lookup(core.KindRules)
	require.True(t, ok)
	assert.Equal(t, dataset.Lossy, ds.Policy(), "configuration overrides the rule catalog default")

	ds, ok = reg.Lookup(core.KindBlockDomain)
	require.True(t, ok)
	assert.Equal(t, dataset.Lossy, ds.Policy())
}

func TestFeedSources(t *testing.T) {
	cfg := config.Default()
	cfg.Datasets.Sources = []config.SourceConfig{{
		Kind:       "geo_ip",
		URL:        "https://feeds.example.com/geo.csv",
		Delimiter:  ";",
		SkipHeader: true,
		Schedule:   "@daily",
	}}
	sources, err := FeedSources(cfg)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, core.KindGeoIP, sources[0].Kind)
	assert.Equal(t, ';', sources[0].Delimiter)
	assert.True(t, sources[0].SkipHeader)
	assert.Equal(t, "@daily", sources[0].Schedule)

	cfg.Datasets.Sources[0].Kind = "bloom"
	_, err = FeedSources(cfg)
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	cfg := testConfig(t)
	rules, errs := LoadRules(cfg, NewRegexCompiler(cfg), zap.NewNop().Sugar())
	require.Empty(t, errs)
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"blocked-ip-login", "sigma-whoami"}, ids)

	writeFile(t, cfg.Rules.SigmaDir, "dup.yml", `
title: Duplicate
id: blocked-ip-login
status: test
level: low
detection:
  sel:
    User: root
  condition: sel
`)
	rules, errs = LoadRules(cfg, NewRegexCompiler(cfg), zap.NewNop().Sugar())
	assert.Len(t, rules, 2)
	require.Len(t, errs, 1)
	assert.True(t, core.IsConfigurationError(errs[0]))
}

func TestInitCorrelationStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sugar := zaptest.NewLogger(t).Sugar()

	cfg := config.Default()
	mem, err := InitCorrelationStore(ctx, cfg, sugar)
	require.NoError(t, err)
	assert.NotNil(t, mem.Memory)
	assert.NoError(t, mem.Close())

	mr := miniredis.RunT(t)
	cfg.Correlation.Backend = config.BackendRedis
	cfg.Correlation.Redis.Addr = mr.Addr()
	rs, err := InitCorrelationStore(ctx, cfg, sugar)
	require.NoError(t, err)
	require.NotNil(t, rs.Redis)
	assert.IsType(t, &correlation.BreakerStore{}, rs.Store)
	n, err := rs.Store.Observe(ctx, "f", "k", time.Now(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, rs.Close())

	cfg.Correlation.Backend = "etcd"
	_, err = InitCorrelationStore(ctx, cfg, sugar)
	assert.Error(t, err)
}

func TestCheckPaths(t *testing.T) {
	cfg := testConfig(t)
	assert.NoError(t, CheckPaths(cfg, zap.NewNop().Sugar()))

	cfg.Rules.NativeDir = filepath.Join(t.TempDir(), "missing")
	cfg.Rules.SigmaDir = cfg.Datasets.Sources[0].Path
	cfg.Datasets.Sources[0].Path = filepath.Join(t.TempDir(), "gone.txt")
	err := CheckPaths(cfg, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules.native_dir")
	assert.Contains(t, err.Error(), "not a directory")
	assert.Contains(t, err.Error(), "datasets.sources[0]")
}

func TestClassifyConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil error returns empty string", nil, ""},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, "Connection refused"},
		{"auth", errors.New("NOAUTH Authentication required."), "Authentication failed"},
		{"dns", errors.New("dial tcp: lookup redis.invalid: no such host"), "Cannot resolve hostname"},
		{"other", errors.New("boom"), "Failed to connect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyConnectionError(tt.err, "localhost:6379")
			if tt.contains == "" {
				assert.Empty(t, result)
				return
			}
			assert.Contains(t, result, tt.contains)
		})
	}
}

func TestApp_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Empty(t, app.RuleErrors)
	assert.Len(t, app.Engine.Rules(), 2)
	require.NoError(t, app.Start())

	blocked := core.NewEvent()
	blocked.Set("event.action", "login")
	blocked.Set("source.ip", "198.51.100.9")
	allowed := core.NewEvent()
	allowed.Set("event.action", "login")
	allowed.Set("source.ip", "192.0.2.44")
	whoami := core.NewEvent()
	whoami.Set("Image", `C:\Windows\System32\whoami.exe`)

	app.Events <- blocked
	app.Events <- allowed
	require.NoError(t, app.Submit(context.Background(), whoami))
	app.CloseInput()
	assert.ErrorIs(t, app.Submit(context.Background(), whoami), ErrInputClosed)

	var fired []string
	for alert := range app.Alerts {
		fired = append(fired, alert.RuleID)
	}
	assert.ElementsMatch(t, []string{"blocked-ip-login", "sigma-whoami"}, fired)

	<-app.Drained()
	assert.NoError(t, app.Shutdown())
	assert.NoError(t, app.Shutdown(), "shutdown is idempotent")
}

func TestApp_ReloadRules(t *testing.T) {
	cfg := testConfig(t)
	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, app.Start())
	defer app.Shutdown()

	writeFile(t, cfg.Rules.NativeDir, "root.yaml", `
id: root-login
name: Root login
subrules:
  root:
    conditions:
      - field: user.name
        operator: {equals: root}
`)
	errs, err := app.ReloadRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, errs)

	require.Eventually(t, func() bool {
		return len(app.Engine.Rules()) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewApp_FailsOnBadPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Rules.NativeDir = filepath.Join(t.TempDir(), "missing")
	_, err := NewApp(context.Background(), cfg, nil)
	assert.Error(t, err)
}
