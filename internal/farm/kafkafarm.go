package farm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/labframe/labframe/internal/value"
)

// wireSubmission and wireUpdate are the JSON envelopes exchanged with
// engines over Kafka. value.Dict marshals/unmarshals kind-preserving JSON
// on its own (internal/value/json.go), so an int parameter round-trips as
// an int, never silently widening to a float the way a plain
// map[string]any decode would.
type wireSubmission struct {
	JobID          string     `json:"job_id"`
	ExperimentName string     `json:"experiment_name"`
	Parameters     value.Dict `json:"parameters"`
}

type wireUpdate struct {
	JobID     string     `json:"job_id"`
	Status    string     `json:"status"`
	Results   value.Dict `json:"results,omitempty"`
	Exception string     `json:"exception,omitempty"`
}

type wireControl struct {
	Kind    string   `json:"kind"` // "cancel" | "imports"
	JobID   string   `json:"job_id,omitempty"`
	Modules []string `json:"modules,omitempty"`
}

// KafkaFarmConfig configures a KafkaFarm.
type KafkaFarmConfig struct {
	Brokers         []string
	SubmitTopic     string
	ResultsTopic    string
	ControlTopic    string
	ConsumerGroup   string
	EngineCount     int
	SubmitRPS       float64
	SubmitBurst     int
	ReconnectPolicy WaitOptions
}

// KafkaFarm dispatches experiment runs to remote engines over Kafka (spec
// §6.3). It is the production Farm implementation the cluster lab talks
// to; Fake stands in for it in tests.
type KafkaFarm struct {
	cfg     KafkaFarmConfig
	writer  *kafka.Writer
	reader  *kafka.Reader
	control *kafka.Writer
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewKafkaFarm constructs a KafkaFarm from cfg. The writer and reader are
// created eagerly but do not dial brokers until first use, matching
// kafka-go's lazy-connect writer/reader semantics.
func NewKafkaFarm(cfg KafkaFarmConfig, logger *slog.Logger) *KafkaFarm {
	if logger == nil {
		logger = slog.Default()
	}

	burst := cfg.SubmitBurst
	if burst <= 0 {
		burst = int(cfg.SubmitRPS)
		if burst <= 0 {
			burst = 1
		}
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.SubmitRPS), burst)
	if cfg.SubmitRPS <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &KafkaFarm{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.SubmitTopic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.ResultsTopic,
			GroupID: cfg.ConsumerGroup,
		}),
		control: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.ControlTopic,
			Balancer: &kafka.LeastBytes{},
		},
		limiter: limiter,
		logger:  logger,
	}
}

// EngineCount implements Farm. Engine discovery over Kafka is out of
// scope (spec does not define an engine-registration wire format); the
// configured count is reported as-is.
func (k *KafkaFarm) EngineCount(_ context.Context) (int, error) {
	return k.cfg.EngineCount, nil
}

// Submit implements Farm. It throttles through the configured rate
// limiter, then retries the Kafka write with exponential backoff up to
// the configured reconnection budget before surfacing ErrDispatch.
func (k *KafkaFarm) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %w", ErrDispatch, err)
	}

	jobID := sub.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	wire := wireSubmission{
		JobID:          jobID,
		ExperimentName: sub.ExperimentName,
		Parameters:     sub.Parameters,
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("%w: encode submission: %w", ErrDispatch, err)
	}

	op := func() error {
		return k.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(jobID),
			Value: payload,
		})
	}

	if err := k.retry(ctx, op); err != nil {
		k.logger.Error("farm submit failed", slog.String("job_id", jobID), slog.Any("error", err))

		return "", fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	k.logger.Debug("farm submit", slog.String("job_id", jobID), slog.String("experiment", sub.ExperimentName))

	return jobID, nil
}

// PullReady implements Farm. It drains every message currently available
// on the results topic without blocking past ctx's deadline.
func (k *KafkaFarm) PullReady(ctx context.Context) ([]Update, error) {
	var updates []Update

	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}

			return updates, fmt.Errorf("%w: fetch: %w", ErrDispatch, err)
		}

		var wire wireUpdate
		if err := json.Unmarshal(msg.Value, &wire); err != nil {
			k.logger.Warn("farm: dropping malformed update", slog.Any("error", err))

			_ = k.reader.CommitMessages(ctx, msg)

			continue
		}

		updates = append(updates, Update{
			JobID:     wire.JobID,
			Status:    parseStatus(wire.Status),
			Results:   wire.Results,
			Exception: wire.Exception,
		})

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			k.logger.Warn("farm: commit failed", slog.String("job_id", wire.JobID), slog.Any("error", err))
		}
	}

	return updates, nil
}

// Cancel implements Farm. It publishes a best-effort cancel control
// message and returns true once that message is published; it does not
// know whether the job is still pending on an engine, so it never reports
// false for a terminal or unknown job. The cluster lab always records the
// synthetic cancelled record locally regardless of whether the engine
// actually stops (spec §4.5.3).
func (k *KafkaFarm) Cancel(ctx context.Context, jobID string) (bool, error) {
	payload, err := json.Marshal(wireControl{Kind: "cancel", JobID: jobID})
	if err != nil {
		return false, fmt.Errorf("encode cancel: %w", err)
	}

	if err := k.control.WriteMessages(ctx, kafka.Message{Key: []byte(jobID), Value: payload}); err != nil {
		return false, fmt.Errorf("%w: publish cancel: %w", ErrDispatch, err)
	}

	return true, nil
}

// Imports implements Farm.
func (k *KafkaFarm) Imports(ctx context.Context, moduleNames []string) error {
	payload, err := json.Marshal(wireControl{Kind: "imports", Modules: moduleNames})
	if err != nil {
		return fmt.Errorf("encode imports: %w", err)
	}

	if err := k.control.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("%w: publish imports: %w", ErrDispatch, err)
	}

	return nil
}

// Close releases the Kafka writer/reader connections.
func (k *KafkaFarm) Close() error {
	err1 := k.writer.Close()
	err2 := k.control.Close()
	err3 := k.reader.Close()

	return errors.Join(err1, err2, err3)
}

func (k *KafkaFarm) retry(ctx context.Context, op func() error) error {
	policy := k.cfg.ReconnectPolicy
	if policy == (WaitOptions{}) {
		policy = DefaultWaitOptions()
	}

	eb := toExponentialBackOff(policy)

	return backoff.Retry(op, backoff.WithContext(eb, ctx))
}

// toExponentialBackOff adapts the shared WaitOptions shape to a
// cenkalti/backoff schedule, giving it a bounded elapsed time so a
// persistently broken connection surfaces ErrDispatch instead of
// retrying forever (spec §7).
func toExponentialBackOff(w WaitOptions) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(w.Initial * float64(time.Second))
	eb.MaxInterval = time.Duration(w.Max * float64(time.Second))
	eb.Multiplier = w.Multiplier
	eb.MaxElapsedTime = time.Duration(w.Max*float64(time.Second)) * 5

	return eb
}

func parseStatus(s string) Status {
	switch s {
	case "failed":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	default:
		return StatusCompleted
	}
}
