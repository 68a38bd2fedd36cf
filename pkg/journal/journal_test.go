package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := j.Append(&Record{
			TaskID:         "task-" + string(rune('a'+i)),
			TaskType:       "code",
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-20250514",
			Confidence:     0.8,
			Strategy:       "balanced",
			CollapsePolicy: "best_score",
			Phase:          "COLLAPSED",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recs, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].TaskID != "task-c" {
		t.Fatalf("expected newest first, got %s", recs[0].TaskID)
	}
	if recs[0].Reward != nil {
		t.Fatalf("reward should be unset before feedback")
	}
}

func TestRecentOrderSurvivesZeroNanoseconds(t *testing.T) {
	// A whole-second timestamp must still sort before one a nanosecond
	// later; text formats that drop trailing zero fractions get this wrong.
	j := openTestJournal(t)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	older := &Record{
		TaskID: "task-older", TaskType: "code", Provider: "openai",
		Model: "m", Confidence: 0.7,
		Strategy: "learned", CollapsePolicy: "best_score", Phase: "COLLAPSED",
		CreatedAt: base,
	}
	newer := &Record{
		TaskID: "task-newer", TaskType: "code", Provider: "openai",
		Model: "m", Confidence: 0.7,
		Strategy: "learned", CollapsePolicy: "best_score", Phase: "COLLAPSED",
		CreatedAt: base.Add(time.Nanosecond),
	}
	if err := j.Append(newer); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(older); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if recs[0].TaskID != "task-newer" || recs[1].TaskID != "task-older" {
		t.Fatalf("expected chronological order newest first, got %s then %s",
			recs[0].TaskID, recs[1].TaskID)
	}
	if !recs[1].CreatedAt.Equal(base) {
		t.Fatalf("round-tripped timestamp changed: %v", recs[1].CreatedAt)
	}
}

func TestRecordRewardBackfill(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Append(&Record{
		TaskID: "task-1", TaskType: "code", Provider: "openai",
		Model: "gpt-5.2-thinking", Confidence: 0.7,
		Strategy: "learned", CollapsePolicy: "best_score", Phase: "COLLAPSED",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := j.RecordReward("task-1", 0.85); err != nil {
		t.Fatalf("record reward: %v", err)
	}

	recs, err := j.Recent(1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if recs[0].Reward == nil || *recs[0].Reward != 0.85 {
		t.Fatalf("expected backfilled reward 0.85, got %+v", recs[0].Reward)
	}

	if err := j.RecordReward("ghost", 1.0); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestRecentSignals(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Append(&Record{
		TaskID: "task-1", TaskType: "code", Provider: "openai",
		Model: "m", Confidence: 0.7,
		Strategy: "learned", CollapsePolicy: "best_score", Phase: "COLLAPSED",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.RecordReward("task-1", 0.5); err != nil {
		t.Fatalf("record reward: %v", err)
	}

	sig, err := j.RecentSignals(5)
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if len(sig) != 2 || sig[0] != 0.7 || sig[1] != 0.5 {
		t.Fatalf("unexpected signal vector: %v", sig)
	}
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal
	if err := j.Append(&Record{TaskID: "t"}); err != nil {
		t.Fatalf("nil journal append should be a no-op, got %v", err)
	}
	if err := j.RecordReward("t", 1); err != nil {
		t.Fatalf("nil journal reward should be a no-op, got %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("nil journal close should be a no-op, got %v", err)
	}
}
