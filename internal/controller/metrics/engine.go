package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes recorded by RecordSubmission.
const (
	OutcomeAdvanced     = "advanced"
	OutcomeCompleted    = "completed"
	OutcomeBlocked      = "blocked"
	OutcomeInvalidState = "rejected_state"
	OutcomeForbidden    = "forbidden"
	OutcomeTooLarge     = "too_large"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

var (
	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_submissions_total",
			Help: "Total step submissions by outcome",
		},
		[]string{"outcome"},
	)

	ruleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_rule_failures_total",
			Help: "Total business rules skipped because their condition failed to parse or evaluate",
		},
		[]string{"kind"},
	)

	instancesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_instances_started_total",
			Help: "Total workflow instances started",
		},
	)

	instancesCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_instances_cancelled_total",
			Help: "Total workflow instances cancelled",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_cache_lookups_total",
			Help: "Total read-through cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	seedReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_seed_reloads_total",
			Help: "Total seed file reloads by result",
		},
		[]string{"result"},
	)
)

// RecordSubmission counts a step submission with the given outcome.
func RecordSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// RecordRuleFailure counts a skipped rule. kind is "parse" or "evaluate".
func RecordRuleFailure(kind string) {
	ruleFailures.WithLabelValues(kind).Inc()
}

// RecordInstanceStarted counts a started instance.
func RecordInstanceStarted() {
	instancesStarted.Inc()
}

// RecordInstanceCancelled counts a cancelled instance.
func RecordInstanceCancelled() {
	instancesCancelled.Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordSeedReload counts a seed file reload triggered by a file change.
func RecordSeedReload(ok bool) {
	result := "error"
	if ok {
		result = "success"
	}
	seedReloads.WithLabelValues(result).Inc()
}
