package scheduler

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	passDuration metric.Float64Histogram
	appended     metric.Int64Counter
	gaps         metric.Int64Counter
	retries      metric.Int64Counter
}

func newInstruments(m metric.Meter) (*instruments, error) {
	ins := &instruments{}
	var err error

	ins.passDuration, err = m.Float64Histogram(
		"audit.pass.duration",
		metric.WithDescription("Wall-clock duration of a pass"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pass duration histogram: %w", err)
	}

	ins.appended, err = m.Int64Counter(
		"audit.findings.appended",
		metric.WithDescription("Findings appended to the store"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create findings counter: %w", err)
	}

	ins.gaps, err = m.Int64Counter(
		"audit.coverage.gaps",
		metric.WithDescription("Fan-out tasks recorded as coverage gaps"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gap counter: %w", err)
	}

	ins.retries, err = m.Int64Counter(
		"audit.worker.retries",
		metric.WithDescription("Fan-out task retries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retry counter: %w", err)
	}
	return ins, nil
}
