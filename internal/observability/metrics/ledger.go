package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	proofSubmissionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "proof",
		Name:      "submissions_total",
		Help:      "Proof submissions by outcome.",
	}, []string{"result"})
	proofChainChecksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "proof",
		Name:      "chain_checks_total",
		Help:      "Pairwise chain verifications by outcome.",
	}, []string{"result"})
	blocksAppendedTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "blocks_appended_total",
		Help:      "Blocks committed across all ledgers.",
	})
	appendConflictsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "append_conflicts_total",
		Help:      "Optimistic append attempts retried after a head conflict.",
	}, []string{"store"})
	appendDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "append_duration_seconds",
		Help:      "Duration of append transactions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
	ledgerHeight = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "height",
		Help:      "Block count of each ledger seen by this process.",
	}, []string{"ledger"})
	vectorUpdatesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "vector_updates_total",
		Help:      "Vector updates by policy and outcome.",
	}, []string{"policy", "result"})
	indexerEventsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "events_total",
		Help:      "Ledger events handled by the similarity indexer.",
	}, []string{"type", "result"})
	cacheLookupsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Block cache lookups by outcome.",
	}, []string{"result"})
)

// ObserveProofSubmission 记录一次证明提交的结果。
func ObserveProofSubmission(result string) {
	proofSubmissionsTotal.WithLabelValues(result).Inc()
}

// ObserveChainCheck 记录一次链接校验。
func ObserveChainCheck(err error) {
	proofChainChecksTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveAppend 记录一次追加事务。成功时同步更新账本高度。
func ObserveAppend(ledgerID string, height uint64, err error, started time.Time) {
	appendDuration.WithLabelValues(outcome(err)).Observe(time.Since(started).Seconds())
	if err != nil {
		return
	}
	blocksAppendedTotal.Inc()
	ledgerHeight.WithLabelValues(ledgerID).Set(float64(height))
}

// ObserveAppendConflict 记录一次乐观并发冲突。
func ObserveAppendConflict(store string) {
	appendConflictsTotal.WithLabelValues(store).Inc()
}

// ObserveVectorUpdate 记录一次向量更新。
func ObserveVectorUpdate(policy string, err error) {
	vectorUpdatesTotal.WithLabelValues(policy, outcome(err)).Inc()
}

// ObserveIndexerEvent 记录索引器处理事件的结果。
func ObserveIndexerEvent(eventType string, err error) {
	indexerEventsTotal.WithLabelValues(eventType, outcome(err)).Inc()
}

// ObserveCacheLookup 记录缓存命中情况，result 取 hit、miss 或 error。
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
