package prom

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	UseRegistry(reg)
	t.Cleanup(func() {
		UseRegistry(prometheus.DefaultRegisterer)
		MetricSystemEnabled = false
	})

	require.NoError(t, Create("host-1", "test", "call_billing"))

	IncBillingResult("billed")
	IncBillingResult("billed")
	IncBillingResult("insufficient_funds")
	AddBilledCents(33)
	AddBilledCents(11)
	AddCallsSynced(3, "ok")
	IncQueueJob("acked")

	families, err := reg.Gather()
	require.NoError(t, err)

	value := func(name, label string) float64 {
		for _, f := range families {
			if f.GetName() != name {
				continue
			}
			for _, m := range f.GetMetric() {
				if label == "" || hasResult(m.GetLabel(), label) {
					return m.GetCounter().GetValue()
				}
			}
		}
		t.Fatalf("metric %s{%s} not found", name, label)
		return 0
	}

	assert.Equal(t, 2.0, value("call_billing_billing_calls_total", "billed"))
	assert.Equal(t, 1.0, value("call_billing_billing_calls_total", "insufficient_funds"))
	assert.Equal(t, 44.0, value("call_billing_billing_billed_cents_total", ""))
	assert.Equal(t, 3.0, value("call_billing_sync_calls_synced_total", "ok"))
	assert.Equal(t, 1.0, value("call_billing_queue_jobs_total", "acked"))
}

func TestDisabledIsNoop(t *testing.T) {
	MetricSystemEnabled = false
	assert.NotPanics(t, func() {
		IncBillingResult("billed")
		AddSyncDuration(1.5, "manual")
		AddProviderRequestDuration(0.2, "primary", "200")
	})
}

func hasResult(labels []*dto.LabelPair, result string) bool {
	for _, l := range labels {
		if l.GetName() == "result" && l.GetValue() == result {
			return true
		}
	}
	return false
}
