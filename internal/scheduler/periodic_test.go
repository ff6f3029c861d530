package scheduler

import "testing"

func TestEverySweepTicksOncePerMinute(t *testing.T) {
	want := map[string]bool{
		TaskPoolSweep:            false,
		TaskAutomationDelaySweep: false,
		TaskAutomationStageSweep: false,
	}

	for _, entry := range periodicEntries {
		if entry.cadence != "@every 1m" {
			t.Fatalf("%s registered %q, want @every 1m", entry.task, entry.cadence)
		}
		seen, ok := want[entry.task]
		if !ok {
			t.Fatalf("unexpected task %q", entry.task)
		}
		if seen {
			t.Fatalf("task %q registered twice", entry.task)
		}
		want[entry.task] = true
	}

	for task, seen := range want {
		if !seen {
			t.Fatalf("task %q is not scheduled", task)
		}
	}
}
