// Package publish streams finished batch runs to Kafka. Every included
// object becomes one JSON message keyed by its object id; exclusions and
// run markers go to the same topic with a distinct "kind".
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/banshee-data/lightcurve.report/internal/batch"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
)

// Message kinds.
const (
	KindRunStarted  = "run_started"
	KindFeatures    = "features"
	KindExclusion   = "exclusion"
	KindRunFinished = "run_finished"
)

// DefaultBatchSize is the number of buffered messages that triggers a write.
const DefaultBatchSize = 100

// Envelope is the JSON body of every message.
type Envelope struct {
	Kind      string           `json:"kind"`
	RunID     string           `json:"run_id"`
	Time      time.Time        `json:"time"`
	Features  *FeaturesPayload `json:"features,omitempty"`
	Exclusion *batch.Exclusion `json:"exclusion,omitempty"`
	Sources   int              `json:"sources,omitempty"`
}

// FeaturesPayload is the published form of an included outcome.
type FeaturesPayload struct {
	SNID       string      `json:"snid"`
	Type       string      `json:"type"`
	Redshift   float64     `json:"redshift"`
	PeakFilter string      `json:"peak_filter,omitempty"`
	Filters    []string    `json:"filters"`
	Bins       []float64   `json:"bins"`
	Values     []float64   `json:"values"`
	Draws      [][]float64 `json:"draws,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements batch.Sink on a kafka-go Writer. Messages are
// buffered and written in batches; EndRun flushes the remainder.
type Publisher struct {
	w         messageWriter
	topic     string
	batchSize int
	now       func() time.Time
	pending   []kafka.Message
}

// New returns a Publisher writing to topic on brokers. Messages are hashed
// by key so every message about one object lands on the same partition.
func New(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: time.Second,
	}
	return newPublisher(w, topic), nil
}

func newPublisher(w messageWriter, topic string) *Publisher {
	return &Publisher{w: w, topic: topic, batchSize: DefaultBatchSize, now: time.Now}
}

// Close closes the underlying writer without flushing.
func (p *Publisher) Close() error { return p.w.Close() }

func (p *Publisher) BeginRun(ctx context.Context, run batch.Run) error {
	return p.enqueue(ctx, run.ID, Envelope{Kind: KindRunStarted, RunID: run.ID, Sources: run.Sources})
}

func (p *Publisher) WriteOutcome(ctx context.Context, runID string, out *pipeline.Outcome) error {
	if !out.Included() {
		return nil
	}
	return p.enqueue(ctx, out.ObjectID, Envelope{Kind: KindFeatures, RunID: runID, Features: featuresPayload(out)})
}

func (p *Publisher) WriteExclusion(ctx context.Context, runID string, ex batch.Exclusion) error {
	return p.enqueue(ctx, ex.ObjectID, Envelope{Kind: KindExclusion, RunID: runID, Exclusion: &ex})
}

func (p *Publisher) EndRun(ctx context.Context, run batch.Run) error {
	if err := p.enqueue(ctx, run.ID, Envelope{Kind: KindRunFinished, RunID: run.ID, Sources: run.Sources}); err != nil {
		return err
	}
	return p.flush(ctx)
}

func featuresPayload(out *pipeline.Outcome) *FeaturesPayload {
	fp := &FeaturesPayload{
		SNID:     out.ObjectID,
		Type:     out.Type,
		Redshift: out.Redshift,
		Filters:  out.Features.Filters,
		Bins:     out.Features.Bins,
		Values:   out.Features.Values,
	}
	if out.Fit != nil {
		fp.PeakFilter = out.Fit.PeakFilter
	}
	for _, d := range out.DrawFeatures {
		fp.Draws = append(fp.Draws, d.Values)
	}
	return fp
}

// buildMessage encodes env keyed by key.
func (p *Publisher) buildMessage(key string, env Envelope) (kafka.Message, error) {
	now := p.now()
	env.Time = now
	v, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s message: %w", env.Kind, err)
	}
	return kafka.Message{Key: []byte(key), Value: v, Time: now}, nil
}

func (p *Publisher) enqueue(ctx context.Context, key string, env Envelope) error {
	msg, err := p.buildMessage(key, env)
	if err != nil {
		return err
	}
	p.pending = append(p.pending, msg)
	if len(p.pending) >= p.batchSize {
		return p.flush(ctx)
	}
	return nil
}

func (p *Publisher) flush(ctx context.Context) error {
	if len(p.pending) == 0 {
		return nil
	}
	msgs := p.pending
	p.pending = nil
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		opsf("kafka write of %d messages to %s failed: %v", len(msgs), p.topic, err)
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	diagf("published %d messages to %s", len(msgs), p.topic)
	return nil
}
