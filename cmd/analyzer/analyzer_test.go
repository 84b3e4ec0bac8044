package analyzer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/nexus-ledger/analyzer"
	"github.com/oasisprotocol/nexus-ledger/log"
	"github.com/oasisprotocol/nexus-ledger/metrics"
)

// A trivial analyzer that runs for `duration` or until cancelled, then
// appends its `name` to `finishLog`.
type dummyAnalyzer struct {
	name      string
	duration  time.Duration
	finishLog *[]string
	lock      *sync.Mutex
}

var _ analyzer.Analyzer = (*dummyAnalyzer)(nil)

func (a *dummyAnalyzer) Start(ctx context.Context) {
	select {
	case <-time.After(a.duration):
	case <-ctx.Done():
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	*a.finishLog = append(*a.finishLog, a.name)
}

func (a *dummyAnalyzer) Name() string {
	return a.name
}

func newDummies(finishLog *[]string, durations map[string]time.Duration) []analyzer.Analyzer {
	lock := &sync.Mutex{}
	var out []analyzer.Analyzer
	for name, d := range durations {
		out = append(out, &dummyAnalyzer{name: name, duration: d, finishLog: finishLog, lock: lock})
	}
	return out
}

func TestServiceRunsAnalyzersToCompletion(t *testing.T) {
	finishLog := []string{}
	s := Service{
		analyzers: newDummies(&finishLog, map[string]time.Duration{
			"slow": 300 * time.Millisecond,
			"fast": 0,
		}),
		logger: log.NewTestLogger("analyzer"),
	}
	require.NoError(t, s.run(context.Background()))
	require.Equal(t, []string{"fast", "slow"}, finishLog)
}

func TestServiceStopsOnCancel(t *testing.T) {
	finishLog := []string{}
	s := Service{
		analyzers: newDummies(&finishLog, map[string]time.Duration{
			"forever": time.Hour,
		}),
		logger: log.NewTestLogger("analyzer"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, s.run(ctx))
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, []string{"forever"}, finishLog)
}

func TestServiceStopsOnMetricsFailure(t *testing.T) {
	logger := log.NewTestLogger("analyzer")
	pull, err := metrics.NewPullService("127.0.0.1:-1", logger)
	require.NoError(t, err)

	finishLog := []string{}
	s := Service{
		analyzers: newDummies(&finishLog, map[string]time.Duration{
			"forever": time.Hour,
		}),
		metrics: pull,
		logger:  logger,
	}
	require.Error(t, s.run(context.Background()))
	require.Equal(t, []string{"forever"}, finishLog)
}

func TestLoadABIsWithoutDir(t *testing.T) {
	abis, err := loadABIs("", log.NewTestLogger("analyzer"))
	require.NoError(t, err)
	require.Equal(t, 0, abis.Len())
}

func TestOpenCacheDisabled(t *testing.T) {
	cache, err := openCache(nil, log.NewTestLogger("analyzer"))
	require.NoError(t, err)
	require.Nil(t, cache)
}
