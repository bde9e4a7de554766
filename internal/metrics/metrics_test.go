package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestLocator_Counters(t *testing.T) {
	m := NewLocator(100)

	m.RecordSuccess("original_selector", false, 10*time.Millisecond)
	m.RecordSuccess("cached", true, 20*time.Millisecond)
	m.RecordSuccess("hybrid", false, 300*time.Millisecond)
	m.RecordFailure(70 * time.Millisecond)

	s := m.Snapshot()
	if s.Requests != 4 {
		t.Errorf("expected 4 requests, got %d", s.Requests)
	}
	if s.Successes != 3 || s.Failures != 1 {
		t.Errorf("expected 3 successes and 1 failure, got %d/%d", s.Successes, s.Failures)
	}
	if s.CacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", s.CacheHits)
	}
	if s.SuccessRate != 0.75 {
		t.Errorf("expected success rate 0.75, got %f", s.SuccessRate)
	}
	if s.CacheHitRate != 0.25 {
		t.Errorf("expected cache hit rate 0.25, got %f", s.CacheHitRate)
	}
	if s.ByStrategy["hybrid"] != 1 || s.ByStrategy["cached"] != 1 {
		t.Errorf("unexpected strategy breakdown: %v", s.ByStrategy)
	}
	if s.LatencyStats.MinMs != 10 || s.LatencyStats.MaxMs != 300 || s.LatencyStats.AverageMs != 100 {
		t.Errorf("unexpected latency stats: %+v", s.LatencyStats)
	}
}

func TestLocator_SnapshotIsACopy(t *testing.T) {
	m := NewLocator(10)
	m.RecordSuccess("cached", true, time.Millisecond)

	s := m.Snapshot()
	s.ByStrategy["cached"] = 99

	if got := m.Snapshot().ByStrategy["cached"]; got != 1 {
		t.Errorf("snapshot mutation leaked into metrics: %d", got)
	}
}

func TestLocator_Reset(t *testing.T) {
	m := NewLocator(10)
	m.RecordSuccess("cached", true, time.Millisecond)
	m.RecordFailure(time.Millisecond)
	m.Reset()

	s := m.Snapshot()
	if s.Requests != 0 || s.CacheHits != 0 || len(s.ByStrategy) != 0 || s.LatencyStats.Samples != 0 {
		t.Errorf("expected empty snapshot after reset, got %+v", s)
	}
	if s.SuccessRate != 0 {
		t.Errorf("expected zero success rate without requests, got %f", s.SuccessRate)
	}
}

func TestLatencyWindow_KeepsMostRecent(t *testing.T) {
	w := newLatencyWindow(3)
	for i := 1; i <= 5; i++ {
		w.record(time.Duration(i) * time.Millisecond)
	}
	stats := w.stats()
	if stats.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", stats.Samples)
	}
	if stats.MinMs != 3 || stats.MaxMs != 5 {
		t.Errorf("expected window [3,5], got [%d,%d]", stats.MinMs, stats.MaxMs)
	}
}

func TestLatencyWindow_DefaultSize(t *testing.T) {
	if w := newLatencyWindow(0); w.maxSamples != defaultMaxSamples {
		t.Errorf("expected default maxSamples=%d, got %d", defaultMaxSamples, w.maxSamples)
	}
}

func TestAI_Counters(t *testing.T) {
	m := NewAI(10)
	if m.SuccessRate() != 1 {
		t.Errorf("expected success rate 1 before any request, got %f", m.SuccessRate())
	}

	m.RecordRequest(KindDOM, true, 120, 50*time.Millisecond)
	m.RecordRequest(KindVisual, false, 0, 80*time.Millisecond)
	m.RecordRequest(KindDisambiguate, true, 8, 5*time.Millisecond)
	m.RecordCircuitOpen()

	s := m.Snapshot()
	if s.Requests != 3 || s.Successes != 2 || s.Failures != 1 {
		t.Errorf("unexpected request counters: %+v", s)
	}
	if s.TokensUsed != 128 {
		t.Errorf("expected 128 tokens, got %d", s.TokensUsed)
	}
	if s.DOMRequests != 1 || s.VisualRequests != 1 || s.DisambiguateRequests != 1 {
		t.Errorf("unexpected per-kind counters: %+v", s)
	}
	if s.CircuitOpenRejections != 1 {
		t.Errorf("expected 1 circuit-open rejection, got %d", s.CircuitOpenRejections)
	}
	if got, want := s.SuccessRate, 2.0/3.0; got != want {
		t.Errorf("expected success rate %f, got %f", want, got)
	}
}

func TestConcurrentRecording(t *testing.T) {
	loc := NewLocator(50)
	ai := NewAI(50)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				loc.RecordSuccess("dom_analysis", false, time.Millisecond)
				ai.RecordRequest(KindDOM, true, 1, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := loc.Snapshot().Requests; got != 1000 {
		t.Errorf("expected 1000 locator requests, got %d", got)
	}
	if got := ai.Snapshot().TokensUsed; got != 1000 {
		t.Errorf("expected 1000 tokens, got %d", got)
	}
}
