package metrics

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

const (
	FlushesTotal       = "lsmkv_flushes_total"
	CompactionsTotal   = "lsmkv_compactions_total"
	WritesTotal        = "lsmkv_writes_total"
	Tables             = "lsmkv_tables"
	MemtableBytes      = "lsmkv_memtable_bytes"
	FlushSeconds       = "lsmkv_flush_seconds"
	CompactionSeconds  = "lsmkv_compaction_seconds"
	JournalReplayTotal = "lsmkv_journal_replayed_total"
)

var help = map[string]string{
	FlushesTotal:       "Number of memtables flushed to SSTables.",
	CompactionsTotal:   "Number of completed compactions.",
	WritesTotal:        "Number of accepted writes by operation.",
	Tables:             "Number of SSTables currently served.",
	MemtableBytes:      "Size of the active memtable in bytes.",
	FlushSeconds:       "Duration of memtable flushes.",
	CompactionSeconds:  "Duration of compactions.",
	JournalReplayTotal: "Number of journal records replayed at startup.",
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, map[string]string, float64)       {}
func (Nop) SetGauge(string, map[string]string, float64)         {}
func (Nop) ObserveHistogram(string, map[string]string, float64) {}
