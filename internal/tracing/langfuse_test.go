package tracing

import "testing"

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()
	for _, cfg := range []*Config{nil, {}, {PublicKey: "pk"}, {SecretKey: "sk"}} {
		h, flush, ok := Setup(cfg)
		if ok || h != nil || flush != nil {
			t.Errorf("Setup(%+v) enabled tracing", cfg)
		}
	}
}

func TestInstall_DisabledReturnsNoopFlush(t *testing.T) {
	t.Parallel()
	flush, ok := Install(&Config{})
	if ok {
		t.Fatal("Install enabled tracing without keys")
	}
	flush()
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()
	if !(&Config{PublicKey: "pk", SecretKey: "sk"}).Enabled() {
		t.Error("keys set but Enabled() is false")
	}
}
