package telemetry

import (
	"testing"
	"time"

	"github.com/contentops/tailor/config"
)

func TestSnapshotAggregates(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true, CostTracking: true})

	tel.RecordRun(RunEvent{RunID: "r1", Success: true, Duration: time.Second})
	tel.RecordRun(RunEvent{RunID: "r2", Success: false, ErrorKind: "page_not_found", Duration: time.Second})
	tel.RecordRun(RunEvent{RunID: "r3", Success: false, ErrorKind: "page_not_found", Duration: time.Second})
	tel.RecordRewrite(RewriteEvent{Model: "gpt-4o-mini", InputTokens: 100, OutputTokens: 50, Cost: 0.01})
	tel.RecordRewrite(RewriteEvent{Model: "gpt-4o-mini", InputTokens: 200, OutputTokens: 100, Cost: 0.02})

	m := tel.Snapshot()
	if m.TotalRuns != 3 || m.SuccessfulRuns != 1 || m.FailedRuns != 2 {
		t.Fatalf("run counts: %+v", m)
	}
	if m.FailuresByKind["page_not_found"] != 2 {
		t.Fatalf("failures by kind: %v", m.FailuresByKind)
	}
	if m.RewriteCalls != 2 || m.TokensUsed != 450 {
		t.Fatalf("rewrite aggregates: %+v", m)
	}
	if m.TokensByModel["gpt-4o-mini"] != 450 {
		t.Fatalf("tokens by model: %v", m.TokensByModel)
	}
	if m.TotalCost < 0.029 || m.TotalCost > 0.031 {
		t.Fatalf("cost tracking: %v", m.TotalCost)
	}
}

func TestDisabledTelemetryRecordsNothing(t *testing.T) {
	tel := New(config.TelemetryConfig{})

	tel.RecordRun(RunEvent{RunID: "r1", Success: true})
	tel.RecordRewrite(RewriteEvent{Model: "gpt-4o-mini", InputTokens: 100})

	m := tel.Snapshot()
	if m.TotalRuns != 0 || m.RewriteCalls != 0 || m.TokensUsed != 0 {
		t.Fatalf("disabled telemetry must stay zero: %+v", m)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true})
	tel.RecordRun(RunEvent{Success: false, ErrorKind: "internal"})

	m := tel.Snapshot()
	m.FailuresByKind["internal"] = 99

	if tel.Snapshot().FailuresByKind["internal"] != 1 {
		t.Fatal("snapshot map must not alias internal state")
	}
}
