package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// meteredTest returns Metrics recording into a manual reader, and a function
// that collects everything recorded so far keyed by instrument name.
func meteredTest(t *testing.T) (*Metrics, func() map[string]metricdata.Aggregation) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, func() map[string]metricdata.Aggregation {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		out := map[string]metricdata.Aggregation{}
		for _, sm := range rm.ScopeMetrics {
			for _, met := range sm.Metrics {
				out[met.Name] = met.Data
			}
		}
		return out
	}
}

// counterValue sums the data points of a counter whose attribute key equals
// value. An empty key sums every point.
func counterValue(t *testing.T, data metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("not an int64 sum: %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); key == "" || ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m, collect := meteredTest(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok", time.Second)
	m.RecordProviderRequest(ctx, "openai", "llm", "ok", time.Second)
	m.RecordProviderRequest(ctx, "ollama", "llm", "error", time.Second)
	m.RecordTurn(ctx, "user")
	m.RecordTurn(ctx, "assistant")
	m.RecordTurn(ctx, "user")
	m.RecordTransition(ctx, "LISTENING", "TRANSCRIBING")
	m.RecordStageError(ctx, StageGenerate)
	m.RecordStageError(ctx, StageGenerate)
	m.BargeIns.Add(ctx, 1)
	m.EchoesSuppressed.Add(ctx, 1)
	m.FramesDropped.Add(ctx, 7)

	got := collect()
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"parley.provider.requests", "status", "ok", 2},
		{"parley.provider.requests", "provider", "ollama", 1},
		{"parley.turns", "speaker", "user", 2},
		{"parley.turns", "speaker", "assistant", 1},
		{"parley.state.transitions", "to", "TRANSCRIBING", 1},
		{"parley.stage.errors", "stage", StageGenerate, 2},
		{"parley.bargeins", "", "", 1},
		{"parley.echoes.suppressed", "", "", 1},
		{"parley.frames.dropped", "", "", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.value, func(t *testing.T) {
			data, ok := got[tt.name]
			if !ok {
				t.Fatalf("%s not recorded", tt.name)
			}
			if v := counterValue(t, data, tt.key, tt.value); v != tt.want {
				t.Errorf("value = %d, want %d", v, tt.want)
			}
		})
	}
}

func TestMetrics_Latencies(t *testing.T) {
	t.Parallel()
	m, collect := meteredTest(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageTranscribe, 250*time.Millisecond)
	m.RecordStage(ctx, StageTranscribe, 40*time.Millisecond)
	m.FirstAudio.Record(ctx, 0.8)
	m.RecordProviderRequest(ctx, "whisper", "stt", "ok", 300*time.Millisecond)

	got := collect()
	tests := []struct {
		name      string
		wantCount uint64
		wantAttr  attribute.KeyValue
	}{
		{"parley.stage.duration", 2, attribute.String("stage", StageTranscribe)},
		{"parley.turn.first_audio", 1, attribute.KeyValue{}},
		{"parley.provider.duration", 1, attribute.String("kind", "stt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist, ok := got[tt.name].(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 {
				t.Fatalf("%s = %#v, want one histogram point", tt.name, got[tt.name])
			}
			dp := hist.DataPoints[0]
			if dp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", dp.Count, tt.wantCount)
			}
			if tt.wantAttr.Key != "" {
				if v, _ := dp.Attributes.Value(tt.wantAttr.Key); v != tt.wantAttr.Value {
					t.Errorf("%s = %v, want %v", tt.wantAttr.Key, v.Emit(), tt.wantAttr.Value.Emit())
				}
			}
			if len(dp.Bounds) != len(latencyBuckets) {
				t.Errorf("bounds = %v, want the latency buckets", dp.Bounds)
			}
		})
	}
	hist := got["parley.provider.duration"].(metricdata.Histogram[float64])
	if _, ok := hist.DataPoints[0].Attributes.Value("status"); ok {
		t.Error("provider duration carries a status attribute")
	}
}

func TestMetrics_ContextTurnsKeepsLastValue(t *testing.T) {
	t.Parallel()
	m, collect := meteredTest(t)

	m.ContextTurns.Record(context.Background(), 4)
	m.ContextTurns.Record(context.Background(), 6)

	g, ok := collect()["parley.context.turns"].(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) != 1 || g.DataPoints[0].Value != 6 {
		t.Errorf("gauge = %#v, want one point of 6", g)
	}
}

func TestDefaultMetrics_IsShared(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
