package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/accident-data-etl/internal/aggregate"
	"github.com/couchcryptid/accident-data-etl/internal/cluster"
	"github.com/couchcryptid/accident-data-etl/internal/config"
	"github.com/couchcryptid/accident-data-etl/internal/pipeline"
)

// Message kinds, carried in the "kind" header.
const (
	KindAggregate = "aggregate"
	KindCluster   = "cluster"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes analysis results to a Kafka topic.
// It implements pipeline.ResultLoader.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured results topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// LoadAnalysis publishes one message per summary row and one per cluster in a
// single WriteMessages call.
func (w *Writer) LoadAnalysis(ctx context.Context, a *pipeline.Analysis) error {
	msgs, err := buildMessages(a)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	w.logger.Info("analysis published", "sink", w.Name(), "messages", len(msgs), "run_id", a.RunID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

type aggregateValue struct {
	RunID      string               `json:"run_id"`
	Summary    string               `json:"summary"`
	Dimensions []string             `json:"dimensions"`
	Measures   []string             `json:"measures"`
	Key        []aggregate.KeyValue `json:"key"`
	Values     []float64            `json:"values"`
}

type clusterValue struct {
	RunID     string     `json:"run_id"`
	Region    string     `json:"region"`
	CRS       string     `json:"crs"`
	Linkage   string     `json:"linkage"`
	Label     int        `json:"label"`
	Count     int        `json:"count"`
	Centroid  [2]float64 `json:"centroid"`
	Bound     [4]float64 `json:"bound"`
	Accidents []string   `json:"accidents"`
}

func buildMessages(a *pipeline.Analysis) ([]kafkago.Message, error) {
	generatedAt := []byte(a.GeneratedAt.Format(time.RFC3339))
	var msgs []kafkago.Message

	for _, s := range a.Summaries {
		for _, r := range s.Rows {
			data, err := json.Marshal(aggregateValue{
				RunID:      a.RunID.String(),
				Summary:    s.Name,
				Dimensions: s.Dimensions,
				Measures:   s.Measures,
				Key:        r.Key,
				Values:     r.Values,
			})
			if err != nil {
				return nil, fmt.Errorf("serialize %s row: %w", s.Name, err)
			}
			msgs = append(msgs, kafkago.Message{
				Key:   []byte(aggregateKey(s.Name, r.Key)),
				Value: data,
				Headers: []kafkago.Header{
					{Key: "kind", Value: []byte(KindAggregate)},
					{Key: "summary", Value: []byte(s.Name)},
					{Key: "generated_at", Value: generatedAt},
				},
			})
		}
	}

	for _, c := range a.Clusters.Clusters {
		data, err := json.Marshal(newClusterValue(a, c))
		if err != nil {
			return nil, fmt.Errorf("serialize cluster %d: %w", c.Label, err)
		}
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(clusterKey(a.ClusterRegion.String(), c.Label)),
			Value: data,
			Headers: []kafkago.Header{
				{Key: "kind", Value: []byte(KindCluster)},
				{Key: "summary", Value: []byte(KindCluster)},
				{Key: "generated_at", Value: generatedAt},
			},
		})
	}
	return msgs, nil
}

func newClusterValue(a *pipeline.Analysis, c cluster.Cluster) clusterValue {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		if m < len(a.Projection.Points) {
			ids[i] = a.Projection.Points[m].ID
		}
	}
	return clusterValue{
		RunID:     a.RunID.String(),
		Region:    a.ClusterRegion.String(),
		CRS:       string(a.CRS),
		Linkage:   string(a.Clusters.Linkage),
		Label:     c.Label,
		Count:     c.Count,
		Centroid:  [2]float64{c.Centroid.X(), c.Centroid.Y()},
		Bound:     [4]float64{c.Bound.Min.X(), c.Bound.Min.Y(), c.Bound.Max.X(), c.Bound.Max.Y()},
		Accidents: ids,
	}
}

// aggregateKey is "<summary>|<k1>|<k2>...". Rows with equal keys land on the
// same partition.
func aggregateKey(summary string, key []aggregate.KeyValue) string {
	var b strings.Builder
	b.WriteString(summary)
	for _, k := range key {
		b.WriteByte('|')
		b.WriteString(k.String())
	}
	return b.String()
}

func clusterKey(region string, label int) string {
	return "cluster|" + region + "|" + strconv.Itoa(label)
}
