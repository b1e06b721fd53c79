// Package monitoring derives integration health and usage timelines from the
// safety counters and the execution history.
package monitoring

import (
	"fmt"

	"github.com/zosmed/engine/pkg/safety"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

const (
	warningUtilization  = 0.8
	criticalUtilization = 0.9

	healthyScore = 80
	warningScore = 50
)

// Signals are the inputs of a health score.
type Signals struct {
	Usage             safety.Usage
	Executions        int
	FailedExecutions  int
	ContentViolations int
}

// FailureRate returns failed executions over all executions.
func (s Signals) FailureRate() float64 {
	if s.Executions == 0 {
		return 0
	}

	return float64(s.FailedExecutions) / float64(s.Executions)
}

// Score starts at 100 and subtracts a penalty per signal, clamped to [0, 100].
// Every penalty applied is described in issues.
func Score(signals Signals) (score int, issues []string) {
	penalty := 0.0

	windows := []struct {
		name  string
		usage safety.WindowUsage
	}{
		{"hourly", signals.Usage.Hourly},
		{"daily", signals.Usage.Daily},
	}

	for _, w := range windows {
		utilization := w.usage.Utilization()

		switch {
		case utilization >= criticalUtilization:
			penalty += 20
			issues = append(issues, fmt.Sprintf("%s budget %.0f%% used", w.name, utilization*100))
		case utilization > warningUtilization:
			penalty += 10
			issues = append(issues, fmt.Sprintf("%s budget %.0f%% used", w.name, utilization*100))
		}
	}

	if rate := signals.FailureRate(); rate > 0 {
		penalty += 50 * rate
		issues = append(issues, fmt.Sprintf("%d of %d executions failed", signals.FailedExecutions, signals.Executions))
	}

	if signals.ContentViolations > 0 {
		penalty += 10
		issues = append(issues, fmt.Sprintf("%d messages blocked by content rules", signals.ContentViolations))
	}

	score = int(100 - penalty + 0.5)

	return min(max(score, 0), 100), issues
}

// Classify maps a score to a status.
func Classify(score int) Status {
	switch {
	case score >= healthyScore:
		return StatusHealthy
	case score >= warningScore:
		return StatusWarning
	default:
		return StatusCritical
	}
}
