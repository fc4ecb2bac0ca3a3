package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"argus/core"
	"argus/dataset"
	"argus/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDecodeIPSet(t *testing.T) {
	input := `
# blocked addresses
198.51.100.9
203.0.113.7   # scanner
2001:db8::1,extra
not-an-ip
`
	set, skipped, err := DecodeIPSet(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, 1, skipped)
	assert.True(t, set.Contains(netip.MustParseAddr("203.0.113.7")))
	assert.True(t, set.Contains(netip.MustParseAddr("2001:db8::1")))
}

func TestDecodeTextSet(t *testing.T) {
	set, _, err := DecodeTextSet(strings.NewReader("evil.example\n\n# comment\n  bad.example  \n"))
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains("bad.example"))
}

func TestDecodeMaps(t *testing.T) {
	m, skipped, err := DecodeIPMap(strings.NewReader("ip,owner\n10.0.0.1,alice\n10.0.0.2\nbogus,x\n"), CSVOptions{SkipHeader: true})
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	owner, ok := m.Get(netip.MustParseAddr("10.0.0.1"))
	require.True(t, ok)
	assert.Equal(t, "alice", owner)

	ml, _, err := DecodeIPMapList(strings.NewReader("10.0.0.1,web,db\n10.0.0.1,cache\n"), CSVOptions{})
	require.NoError(t, err)
	roles, ok := ml.Get(netip.MustParseAddr("10.0.0.1"))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"web", "db", "cache"}, roles)

	tm, _, err := DecodeTextMap(strings.NewReader("alice;finance\nbob;it\n"), CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	dept, ok := tm.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "it", dept)

	tl, _, err := DecodeTextMapList(strings.NewReader("ws-17,22,3389\n"), CSVOptions{})
	require.NoError(t, err)
	ports, ok := tl.Get("ws-17")
	require.True(t, ok)
	assert.Equal(t, []string{"22", "3389"}, ports)
}

func TestDecodeGeoIP(t *testing.T) {
	input := "81.2.0.0/16,gb,United Kingdom,London,51.5,-0.1,ExampleNet,AS64500\n" +
		"82.0.0.0/8,DE\n" +
		"83.0.0.0/8\n" +
		"84.0.0.0/8,FR,France,,north\n"
	geo, skipped, err := DecodeGeoIP(strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, geo.Len())
	assert.Equal(t, 2, skipped)

	info, ok := geo.LongestMatch(netip.MustParseAddr("81.2.3.4"))
	require.True(t, ok)
	assert.Equal(t, "GB", info.CountryISO)
	assert.Equal(t, "London", info.City)
	assert.Equal(t, uint32(64500), info.ASN)
	assert.InDelta(t, 51.5, info.Latitude, 1e-9)
}

func TestDecodeIPNet(t *testing.T) {
	n, skipped, err := DecodeIPNet(strings.NewReader("10.0.0.0/8,corp\n192.0.2.1\n300.0.0.0/8,bad\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n.Len())
	assert.Equal(t, 1, skipped)
	v, ok := n.LongestMatch(netip.MustParseAddr("10.20.30.40"))
	require.True(t, ok)
	assert.Equal(t, "corp", v)
}

func TestDecodeCalendar(t *testing.T) {
	input := "2024-03-01T09:00:00Z,2024-03-01T17:00:00Z,work\n" +
		"2024-03-02T10:00:00Z,2024-03-02T09:00:00Z,backwards\n" +
		"yesterday,today,bad\n"
	c, skipped, err := DecodeCalendar(strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	labels, ok := c.Lookup(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, []string{"work"}, labels)
}

func TestDecodeI18n(t *testing.T) {
	input := "brute-force:\n  en: Repeated login failures\n  es: Fallos de inicio repetidos\n"
	d, _, err := DecodeI18n(strings.NewReader(input))
	require.NoError(t, err)
	text, ok := d.Get("brute-force", "ES")
	require.True(t, ok)
	assert.Equal(t, "Fallos de inicio repetidos", text)

	_, _, err = DecodeI18n(strings.NewReader("- not\n- a map\n"))
	assert.Error(t, err)
}

func TestSourceValidate(t *testing.T) {
	assert.ErrorIs(t, Source{Kind: core.KindBlockIP}.Validate(), ErrMissingLocation)
	assert.ErrorIs(t, Source{Kind: core.KindBlockIP, Path: "a", URL: "http://b"}.Validate(), ErrAmbiguousLocation)
	assert.ErrorIs(t, Source{Kind: core.KindRules, Path: "a"}.Validate(), ErrUnsupportedKind)
	assert.NoError(t, Source{Kind: core.KindBlockIP, Path: "a"}.Validate())
	assert.ErrorIs(t, Source{Kind: core.KindBlockIP, Path: "../../etc/hosts"}.Validate(), util.ErrPathTraversal)
}

type feedEnv struct {
	registry *dataset.Registry
	blockIP  *dataset.Handle[dataset.IPSet, netip.Addr]
	geo      *dataset.Handle[dataset.GeoIP, dataset.GeoIPEntry]
	loader   *Loader
}

func newFeedEnv(t *testing.T) *feedEnv {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	opts := dataset.HandleOptions{Logger: logger}
	env := &feedEnv{
		blockIP: dataset.NewIPSetHandle(core.KindBlockIP, opts),
		geo:     dataset.NewGeoIPHandle(opts),
		loader:  NewLoader(time.Second, logger),
	}
	reg, err := dataset.NewRegistry(logger, env.blockIP, env.geo)
	require.NoError(t, err)
	env.registry = reg
	return env
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_PrimeFromFile(t *testing.T) {
	env := newFeedEnv(t)
	path := writeFile(t, "block.txt", "198.51.100.9\n198.51.100.10\n")

	res, err := env.loader.Prime(context.Background(), env.registry, Source{Kind: core.KindBlockIP, Path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 2, env.blockIP.Get().Len())
}

func TestLoader_LoadThroughQueue(t *testing.T) {
	env := newFeedEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.registry.Start(ctx) }()

	path := writeFile(t, "block.txt", "198.51.100.9\n")
	_, err := env.loader.Load(ctx, env.registry, Source{Kind: core.KindBlockIP, Path: path})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return env.blockIP.Get().Contains(netip.MustParseAddr("198.51.100.9"))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoader_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("81.2.0.0/16,GB\n"))
	}))
	defer srv.Close()

	env := newFeedEnv(t)
	src := Source{Kind: core.KindGeoIP, URL: srv.URL, Headers: map[string]string{"X-API-Key": "secret"}}
	_, err := env.loader.Prime(context.Background(), env.registry, src)
	require.NoError(t, err)
	assert.Equal(t, 1, env.geo.Get().Len())

	src.Headers = nil
	_, err = env.loader.Prime(context.Background(), env.registry, src)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestLoader_FailureKeepsPreviousSnapshot(t *testing.T) {
	env := newFeedEnv(t)
	env.blockIP.Publish(dataset.NewIPSet(netip.MustParseAddr("192.0.2.1")))

	_, err := env.loader.Prime(context.Background(), env.registry,
		Source{Kind: core.KindBlockIP, Path: filepath.Join(t.TempDir(), "missing.txt")})
	require.Error(t, err)
	assert.True(t, env.blockIP.Get().Contains(netip.MustParseAddr("192.0.2.1")))

	_, err = env.loader.Prime(context.Background(), env.registry,
		Source{Kind: core.KindBlockDomain, Path: writeFile(t, "d.txt", "x\n")})
	assert.True(t, errors.Is(err, core.ErrDatasetUnavailable))
}

func TestLoader_PrimeAll(t *testing.T) {
	env := newFeedEnv(t)
	err := env.loader.PrimeAll(context.Background(), env.registry, []Source{
		{Kind: core.KindBlockIP, Path: writeFile(t, "b.txt", "192.0.2.1\n")},
		{Kind: core.KindGeoIP},
	})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
	assert.Equal(t, 1, env.blockIP.Get().Len(), "valid sources are still loaded")
}

func TestScheduler(t *testing.T) {
	env := newFeedEnv(t)
	path := writeFile(t, "block.txt", "198.51.100.9\n")

	_, err := NewScheduler(env.loader, env.registry, []Source{{Kind: core.KindBlockIP, Path: path, Schedule: "every so often"}}, SchedulerOptions{}, nil)
	assert.True(t, core.IsConfigurationError(err))

	s, err := NewScheduler(env.loader, env.registry, []Source{
		{Kind: core.KindBlockIP, Path: path, Schedule: "@every 1h"},
		{Kind: core.KindGeoIP, Path: path},
	}, SchedulerOptions{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.registry.Start(ctx) }()

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	next, ok := s.NextRun(core.KindBlockIP)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)
	_, ok = s.NextRun(core.KindGeoIP)
	assert.False(t, ok, "sources without a schedule are not registered")

	s.TriggerSync(core.KindBlockIP)
	require.Eventually(t, func() bool {
		return env.blockIP.Get().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = s.Sync(ctx, core.KindGeoIP)
	assert.Error(t, err)

	s.Stop()
	assert.False(t, s.IsRunning())
}
