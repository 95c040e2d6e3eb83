// SPDX-License-Identifier: MIT

package journal

import (
	"testing"

	"github.com/liyun-hub/transcoder-supervisor/internal/classify"
)

func TestHandleErrorNetworkNoRetrySucceeds(t *testing.T) {
	j := New(1000, "", 0, nil, nil)
	entry := j.HandleError("ch1", "Connection refused", classify.Context{})

	if entry.Kind != classify.KindNetwork {
		t.Fatalf("kind = %v, want NETWORK", entry.Kind)
	}
	if !entry.RecoveryAttempted || !entry.RecoverySuccessful {
		t.Fatalf("expected recovery attempted+successful for NETWORK, got %+v", entry)
	}
	if entry.Detail["subtype"] != "connection_failed" {
		t.Fatalf("subtype = %v", entry.Detail["subtype"])
	}
}

func TestJournalBoundedness(t *testing.T) {
	j := New(10, "", 0, nil, nil)
	for i := 0; i < 25; i++ {
		j.HandleError("ch1", "some system error", classify.Context{})
		if j.Len() > 10 {
			t.Fatalf("journal exceeded max history: len=%d", j.Len())
		}
	}
}

func TestStatisticsRecoveryRate(t *testing.T) {
	j := New(1000, "", 0, nil, nil)
	j.HandleError("ch1", "Connection refused", classify.Context{})
	j.HandleError("ch1", "something weird", classify.Context{})

	stats := j.Statistics()
	if stats.TotalErrors != 2 {
		t.Fatalf("TotalErrors = %d, want 2", stats.TotalErrors)
	}
	if stats.RecoveryRate != 100 {
		t.Fatalf("RecoveryRate = %v, want 100 (both kinds record-only/no-retry => successful)", stats.RecoveryRate)
	}
}

func TestListenerInvokedForMatchingKind(t *testing.T) {
	j := New(1000, "", 0, nil, nil)
	var got classify.Kind
	j.RegisterListener(classify.KindNetwork, func(e Entry) { got = e.Kind })

	j.HandleError("ch1", "Connection refused", classify.Context{})
	if got != classify.KindNetwork {
		t.Fatalf("listener not invoked with expected kind, got %v", got)
	}
}

func TestListenerPanicIsSwallowed(t *testing.T) {
	j := New(1000, "", 0, nil, nil)
	j.RegisterListener(classify.KindNetwork, func(e Entry) { panic("boom") })

	// Must not panic the caller.
	j.HandleError("ch1", "Connection refused", classify.Context{})
}

func TestReplayRecoveryNoHistoryNotFound(t *testing.T) {
	j := New(1000, "", 0, nil, nil)
	if _, ok := j.ReplayRecovery("ch1"); ok {
		t.Fatal("expected ok=false for channel with no journaled errors")
	}
}

func TestReplayRecoveryReplaysLatestEntry(t *testing.T) {
	j := New(1000, "", 0, nil, nil)
	j.HandleError("ch1", "some system error", classify.Context{})
	j.HandleError("ch1", "Connection refused", classify.Context{})

	entry, ok := j.ReplayRecovery("ch1")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if entry.Kind != classify.KindNetwork {
		t.Fatalf("kind = %v, want NETWORK (the latest entry)", entry.Kind)
	}
	if !entry.RecoveryAttempted {
		t.Fatal("expected recovery attempted on replay")
	}

	if j.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (2 original + 1 replay)", j.Len())
	}
}

func TestReplayRecoveryIgnoresOtherChannels(t *testing.T) {
	j := New(1000, "", 0, nil, nil)
	j.HandleError("ch1", "Connection refused", classify.Context{})

	if _, ok := j.ReplayRecovery("ch2"); ok {
		t.Fatal("expected ok=false for a channel with no entries of its own")
	}
}
