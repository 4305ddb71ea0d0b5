package pipeline

import (
	"context"

	"github.com/couchcryptid/tank-monitor-service/internal/domain"
	"github.com/couchcryptid/tank-monitor-service/internal/observability"
)

// Processor runs a parsed reading through its tank. monitor.Fleet implements it.
type Processor interface {
	Process(ctx context.Context, ev domain.SensorEvent) (domain.Snapshot, error)
}

// SensorTransformer implements Transformer by parsing the raw payload and
// handing the reading to a Processor.
type SensorTransformer struct {
	processor Processor
	metrics   *observability.Metrics
}

// NewTransformer creates a SensorTransformer.
func NewTransformer(processor Processor, metrics *observability.Metrics) *SensorTransformer {
	return &SensorTransformer{processor: processor, metrics: metrics}
}

func (t *SensorTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.Snapshot, error) {
	ev, err := domain.ParseSensorEvent(raw)
	if err != nil {
		return domain.Snapshot{}, err
	}
	t.metrics.ReadingsConsumed.WithLabelValues(string(ev.Kind)).Inc()
	return t.processor.Process(ctx, ev)
}
