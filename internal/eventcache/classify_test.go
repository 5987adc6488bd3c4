package eventcache

import "testing"

func defaultCompressionCfg() *CompressionConfig {
	cfg := DefaultConfig().Compression
	return &cfg
}

func TestClassify_StateTransitionOnBoolFlip(t *testing.T) {
	et, ok := classify(BoolValue(false), BoolValue(true), "mute", defaultCompressionCfg())
	if !ok || et != EventTypeStateTransition {
		t.Fatalf("expected state_transition, got %v ok=%v", et, ok)
	}
}

func TestClassify_StateTransitionOnStringChange(t *testing.T) {
	et, ok := classify(StringValue("idle"), StringValue("playing"), "transport.state", defaultCompressionCfg())
	if !ok || et != EventTypeStateTransition {
		t.Fatalf("expected state_transition, got %v ok=%v", et, ok)
	}
}

func TestClassify_ThresholdCrossed(t *testing.T) {
	et, ok := classify(NumberValue(-65), NumberValue(-55), "mixer.gain.level", defaultCompressionCfg())
	if !ok || et != EventTypeThresholdCrossed {
		t.Fatalf("expected threshold_crossed crossing -60, got %v ok=%v", et, ok)
	}
}

func TestClassify_ThresholdCrossedRequiresMatchingControlName(t *testing.T) {
	et, ok := classify(NumberValue(-65), NumberValue(-55), "unrelated.control", defaultCompressionCfg())
	if !ok || et == EventTypeThresholdCrossed {
		t.Fatalf("threshold crossing should not apply to a non-matching control name, got %v", et)
	}
}

func TestClassify_SignificantChange(t *testing.T) {
	cfg := defaultCompressionCfg()
	cfg.SignificantChangePercent = 5
	et, ok := classify(NumberValue(100), NumberValue(110), "generic.value", cfg)
	if !ok || et != EventTypeSignificantChange {
		t.Fatalf("expected significant_change for a 10%% delta, got %v ok=%v", et, ok)
	}
}

func TestClassify_PlainChange(t *testing.T) {
	cfg := defaultCompressionCfg()
	cfg.SignificantChangePercent = 50
	et, ok := classify(NumberValue(100), NumberValue(101), "generic.value", cfg)
	if !ok || et != EventTypeChange {
		t.Fatalf("expected plain change for a tiny delta, got %v ok=%v", et, ok)
	}
}

func TestPercentDelta_FromZero(t *testing.T) {
	if pct := percentDelta(0, 0); pct != 0 {
		t.Errorf("0->0 should be 0%%, got %v", pct)
	}
	if pct := percentDelta(0, 5); pct <= 0 {
		t.Errorf("0->5 should report an unbounded/positive delta, got %v", pct)
	}
}
