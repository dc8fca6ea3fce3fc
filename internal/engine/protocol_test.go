package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sentinelstack/guardian/internal/eventlog"
	"github.com/sentinelstack/guardian/internal/models"
)

// fakeResponder records outbound calls and fails the actions listed in fail.
type fakeResponder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool

	rollbackRevision string
	lastMessage      string
	lastSeverity     string
}

func (f *fakeResponder) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail[name] {
		return errors.New(name + " unavailable")
	}
	return nil
}

func (f *fakeResponder) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.calls...)
	sort.Strings(out)
	return out
}

func (f *fakeResponder) RequestSecondaryDiagnosis(context.Context) error {
	return f.record("request_secondary_diagnosis")
}
func (f *fakeResponder) NarrowMonitoringScope(context.Context) error {
	return f.record("narrow_monitoring_scope")
}
func (f *fakeResponder) RestoreMonitoringScope(context.Context) error {
	return f.record("restore_monitoring_scope")
}
func (f *fakeResponder) IncreaseValidationFrequency(context.Context) error {
	return f.record("increase_validation_frequency")
}
func (f *fakeResponder) EnterRestrictedMode(context.Context) error {
	return f.record("enter_restricted_mode")
}
func (f *fakeResponder) ExitRestrictedMode(context.Context) error {
	return f.record("exit_restricted_mode")
}
func (f *fakeResponder) RequestRollback(_ context.Context, targetRevision string) error {
	f.mu.Lock()
	f.rollbackRevision = targetRevision
	f.mu.Unlock()
	return f.record("request_rollback")
}
func (f *fakeResponder) RequestRecalibration(context.Context) error {
	return f.record("request_recalibration")
}
func (f *fakeResponder) NotifyOperators(_ context.Context, message, severity string) error {
	f.mu.Lock()
	f.lastMessage = message
	f.lastSeverity = severity
	f.mu.Unlock()
	return f.record("notify_operators")
}
func (f *fakeResponder) DisableAutonomy(context.Context) error { return f.record("disable_autonomy") }
func (f *fakeResponder) EnableAutonomy(context.Context) error  { return f.record("enable_autonomy") }
func (f *fakeResponder) RequestHumanControl(context.Context) error {
	return f.record("request_human_control")
}
func (f *fakeResponder) RequestRecovery(context.Context) error { return f.record("request_recovery") }

func contains(calls []string, name string) bool {
	for _, c := range calls {
		if c == name {
			return true
		}
	}
	return false
}

func TestApplyRecordsOneEventPerTransition(t *testing.T) {
	responder := &fakeResponder{}
	log := eventlog.NewMemoryStore()
	c := NewProtocolController(nil, ProtocolControllerConfig{}, responder, nil, log)

	snap := nominalSnap()
	event := c.Apply(context.Background(), Transition{
		From:     models.LevelNominal,
		To:       models.LevelSafeMode,
		Trigger:  models.TriggerOperator,
		Snapshot: snap,
	})
	c.Wait()

	if event.ToLevel != models.LevelSafeMode || event.Trigger != models.TriggerOperator {
		t.Fatalf("event mismatch: %+v", event)
	}
	if event.ID == "" {
		t.Fatalf("event missing ID")
	}

	events, err := log.Replay(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one emergency event, got %d", len(events))
	}
	if events[0].ToLevel != models.LevelSafeMode {
		t.Fatalf("persisted event has to_level %d", events[0].ToLevel)
	}
}

func TestSafeModeEntryActions(t *testing.T) {
	responder := &fakeResponder{}
	c := NewProtocolController(nil, ProtocolControllerConfig{}, responder, nil, nil)

	event := c.Apply(context.Background(), Transition{From: models.LevelRestrict, To: models.LevelSafeMode, Trigger: models.TriggerThreshold})
	c.Wait()

	want := []string{"disable_autonomy", "notify_operators", "request_human_control", "request_recovery"}
	got := responder.called()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, name := range want {
		if !contains(got, name) {
			t.Fatalf("missing action %q in %v", name, got)
		}
		if !contains(event.ActionsTaken, name) {
			t.Fatalf("event does not record action %q: %v", name, event.ActionsTaken)
		}
	}
	if responder.lastSeverity != "critical" {
		t.Fatalf("safe-mode notification severity = %q", responder.lastSeverity)
	}
}

func TestRestrictEntryRequestsRollbackRevision(t *testing.T) {
	responder := &fakeResponder{}
	c := NewProtocolController(nil, ProtocolControllerConfig{RollbackRevision: "rev-42"}, responder, nil, nil)

	c.Apply(context.Background(), Transition{From: models.LevelWatch, To: models.LevelRestrict, Trigger: models.TriggerThreshold})
	c.Wait()

	if !contains(responder.called(), "enter_restricted_mode") {
		t.Fatalf("restricted mode not entered: %v", responder.called())
	}
	if responder.rollbackRevision != "rev-42" {
		t.Fatalf("rollback revision = %q, want rev-42", responder.rollbackRevision)
	}
}

func TestReturnToNominalLiftsRestrictions(t *testing.T) {
	responder := &fakeResponder{}
	c := NewProtocolController(nil, ProtocolControllerConfig{}, responder, nil, nil)

	c.Apply(context.Background(), Transition{From: models.LevelWatch, To: models.LevelNominal, Trigger: models.TriggerThreshold})
	c.Wait()

	got := responder.called()
	for _, name := range []string{"restore_monitoring_scope", "exit_restricted_mode", "enable_autonomy", "notify_operators"} {
		if !contains(got, name) {
			t.Fatalf("missing restoration action %q in %v", name, got)
		}
	}
}

func TestIntermediateDescentOnlyNotifies(t *testing.T) {
	responder := &fakeResponder{}
	c := NewProtocolController(nil, ProtocolControllerConfig{}, responder, nil, nil)

	c.Apply(context.Background(), Transition{From: models.LevelSafeMode, To: models.LevelRestrict, Trigger: models.TriggerOperator})
	c.Wait()

	got := responder.called()
	if len(got) != 1 || got[0] != "notify_operators" {
		t.Fatalf("descent to an intermediate level should only notify, got %v", got)
	}
}

func TestFailedActionsBecomePendingFailures(t *testing.T) {
	responder := &fakeResponder{fail: map[string]bool{
		"request_secondary_diagnosis": true,
		"narrow_monitoring_scope":     true,
	}}
	c := NewProtocolController(nil, ProtocolControllerConfig{}, responder, nil, nil)

	c.Apply(context.Background(), Transition{From: models.LevelNominal, To: models.LevelWatch, Trigger: models.TriggerThreshold})
	c.Wait()

	if got := c.ConsumePendingFailures(); got != 2 {
		t.Fatalf("expected 2 pending failures, got %d", got)
	}
	// Consumed: the next tick starts clean.
	if got := c.ConsumePendingFailures(); got != 0 {
		t.Fatalf("pending failures not reset, got %d", got)
	}
	if got := c.TotalFailures(); got != 2 {
		t.Fatalf("expected lifetime failure count 2, got %d", got)
	}
}

func TestBroadcasterReceivesLevel(t *testing.T) {
	var (
		mu       sync.Mutex
		level    models.AlertLevel
		safeMode bool
		called   bool
	)
	broadcast := broadcasterFunc(func(_ context.Context, l models.AlertLevel, sm bool) error {
		mu.Lock()
		defer mu.Unlock()
		level, safeMode, called = l, sm, true
		return nil
	})
	c := NewProtocolController(nil, ProtocolControllerConfig{}, &fakeResponder{}, broadcast, nil)

	c.Apply(context.Background(), Transition{From: models.LevelRestrict, To: models.LevelSafeMode, Trigger: models.TriggerThreshold})
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !called || level != models.LevelSafeMode || !safeMode {
		t.Fatalf("broadcast = (%v, %d, %v)", called, level, safeMode)
	}
}

func TestSlowBroadcasterDoesNotBlockApply(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan struct{})
	broadcast := broadcasterFunc(func(_ context.Context, _ models.AlertLevel, _ bool) error {
		<-release
		close(delivered)
		return nil
	})
	c := NewProtocolController(nil, ProtocolControllerConfig{}, &fakeResponder{}, broadcast, nil)

	done := make(chan struct{})
	go func() {
		c.Apply(context.Background(), Transition{From: models.LevelNominal, To: models.LevelWatch, Trigger: models.TriggerThreshold})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Apply blocked on the broadcaster")
	}
	select {
	case <-delivered:
		t.Fatalf("broadcast completed before it was released")
	default:
	}

	close(release)
	c.Wait()
	select {
	case <-delivered:
	default:
		t.Fatalf("broadcast never delivered")
	}
}

type broadcasterFunc func(ctx context.Context, level models.AlertLevel, safeMode bool) error

func (f broadcasterFunc) PublishLevel(ctx context.Context, level models.AlertLevel, safeMode bool) error {
	return f(ctx, level, safeMode)
}
