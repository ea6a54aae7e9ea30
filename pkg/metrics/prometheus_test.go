package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func text(t *testing.T, p *Prometheus) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, p.WriteText(&sb))
	return sb.String()
}

func TestPrometheus_Counter(t *testing.T) {
	p := NewPrometheus()

	p.IncCounter(WritesTotal, map[string]string{"op": "upsert"}, 1)
	p.IncCounter(WritesTotal, map[string]string{"op": "upsert"}, 2)
	p.IncCounter(WritesTotal, map[string]string{"op": "remove"}, 1)

	out := text(t, p)
	require.Contains(t, out, `lsmkv_writes_total{op="upsert"} 3`)
	require.Contains(t, out, `lsmkv_writes_total{op="remove"} 1`)
}

func TestPrometheus_MismatchedLabelsAreDropped(t *testing.T) {
	p := NewPrometheus()

	p.SetGauge(Tables, nil, 4)
	p.SetGauge(Tables, map[string]string{"unexpected": "x"}, 9)

	out := text(t, p)
	require.Contains(t, out, "lsmkv_tables 4")
	require.NotContains(t, out, "unexpected")
}

func TestPrometheus_WriteText(t *testing.T) {
	p := NewPrometheus()
	p.IncCounter(FlushesTotal, nil, 1)
	p.ObserveHistogram(FlushSeconds, nil, 0.25)

	out := text(t, p)
	require.Contains(t, out, "# HELP lsmkv_flushes_total Number of memtables flushed to SSTables.")
	require.Contains(t, out, "lsmkv_flushes_total 1")
	require.Contains(t, out, "lsmkv_flush_seconds_count 1")
}

func TestNop(t *testing.T) {
	var c Collector = Nop{}
	c.IncCounter(FlushesTotal, nil, 1)
	c.SetGauge(Tables, nil, 1)
	c.ObserveHistogram(FlushSeconds, nil, 1)
}
