package metrics

import (
	"context"
	"errors"
	"time"
)

// Shorthands over GetInstance() for call sites that record one sample.

func MetricDuration(topic, function string, d time.Duration) {
	GetInstance().RecordDuration(topic, function, d)
}

// MetricTimer starts a timing; call the returned func when the work is done.
func MetricTimer(topic, function string) func() {
	start := time.Now()
	return func() { MetricDuration(topic, function, time.Since(start)) }
}

// MetricCache records a cache lookup.
func MetricCache(topic, function string, hit bool) {
	if hit {
		GetInstance().RecordHit(topic, function)
	} else {
		GetInstance().RecordMiss(topic, function)
	}
}

func MetricInc(topic, function string) {
	GetInstance().AddCounter(topic, function, 1)
}

func MetricSuccess(topic, operation string) {
	GetInstance().RecordSuccess(topic, operation)
}

// MetricFail records a failure. A cancelled context is recorded with the
// reason "canceled" so client disconnects are not mistaken for faults.
func MetricFail(topic, operation string, err error) {
	reason := ""
	if errors.Is(err, context.Canceled) {
		reason = "canceled"
	}
	GetInstance().RecordFailure(topic, operation, reason)
}

func MetricFailWithReason(topic, operation, reason string) {
	GetInstance().RecordFailure(topic, operation, reason)
}
