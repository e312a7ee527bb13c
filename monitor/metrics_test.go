package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetCredentialHealth(t *testing.T) {
	r := New()
	r.SetCredentialHealth("kiro", "uuid-1", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.credentialHealth.WithLabelValues("kiro", "uuid-1")))

	r.SetCredentialHealth("kiro", "uuid-1", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(r.credentialHealth.WithLabelValues("kiro", "uuid-1")))
}

func TestRecordSelectionAndTokenRefresh(t *testing.T) {
	r := New()
	r.RecordSelection("qwen", "selected")
	r.RecordSelection("qwen", "selected")
	r.RecordSelection("qwen", "exhausted")
	assert.Equal(t, float64(2), testutil.ToFloat64(r.selectionTotal.WithLabelValues("qwen", "selected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.selectionTotal.WithLabelValues("qwen", "exhausted")))

	r.RecordTokenRefresh("codex", "success")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.tokenRefreshTotal.WithLabelValues("codex", "success")))
}

func TestRecordStreamParseErrorAndConfigReload(t *testing.T) {
	r := New()
	r.RecordStreamParseError("kiro")
	r.RecordStreamParseError("kiro")
	assert.Equal(t, float64(2), testutil.ToFloat64(r.streamParseErrors.WithLabelValues("kiro")))

	r.RecordConfigReload("applied")
	assert.Equal(t, float64(1), testutil.ToFloat64(r.configReloads.WithLabelValues("applied")))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := New()
	r.RecordSelection("gemini", "selected")
	assert.NotNil(t, r.Handler())
}
