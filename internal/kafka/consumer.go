// Package kafka ingests play events from a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/justestif/spotify-listening-stats/internal/config"
	"github.com/justestif/spotify-listening-stats/internal/db"
	syncsvc "github.com/justestif/spotify-listening-stats/internal/sync"
)

const (
	// batchTimeout bounds a single ingest call.
	batchTimeout = 10 * time.Second

	// retryBackoff is the wait before rejoining the group after a failed batch.
	retryBackoff = 5 * time.Second
)

// ErrBatchNotIngested ends a claim whose batch could not be stored. The
// batch is redelivered from the last committed offset.
var ErrBatchNotIngested = errors.New("batch not ingested")

// PlayIngester stores batches of plays
type PlayIngester interface {
	Ingest(ctx context.Context, plays []db.Play, source string) (*syncsvc.IngestResult, error)
}

// PlayMessage is the JSON payload of a play event.
type PlayMessage struct {
	UserID        string    `json:"user_id,omitempty"`
	TrackID       string    `json:"track_id"`
	TrackName     string    `json:"track_name"`
	ArtistName    string    `json:"artist_name"`
	AlbumName     string    `json:"album_name,omitempty"`
	AlbumImageURL string    `json:"album_image_url,omitempty"`
	PlayedAt      time.Time `json:"played_at"`
	MsPlayed      *int      `json:"ms_played,omitempty"`
	DurationMs    *int      `json:"duration_ms,omitempty"`
}

// Play converts the message to a stored play.
func (m PlayMessage) Play() db.Play {
	return db.Play{
		UserID:        m.UserID,
		TrackID:       strings.TrimSpace(m.TrackID),
		TrackName:     strings.TrimSpace(m.TrackName),
		ArtistName:    strings.TrimSpace(m.ArtistName),
		AlbumName:     optional(m.AlbumName),
		AlbumImageURL: optional(m.AlbumImageURL),
		PlayedAt:      m.PlayedAt.UTC(),
		MsPlayed:      db.ClampDuration(m.MsPlayed),
		DurationMs:    db.ClampDuration(m.DurationMs),
		Source:        db.SourceStream,
	}
}

// Consumer consumes play messages from Kafka
type Consumer struct {
	config        config.KafkaConfig
	ingester      PlayIngester
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	retryBackoff  time.Duration
	ingestFailed  atomic.Bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg config.KafkaConfig, ingester PlayIngester, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}
	return newConsumer(cfg, group, ingester, logger), nil
}

func newConsumer(cfg config.KafkaConfig, group sarama.ConsumerGroup, ingester PlayIngester, logger *slog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		ingester:      ingester,
		logger:        logger,
		consumerGroup: group,
		retryBackoff:  retryBackoff,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins consuming messages in the background
func (c *Consumer) Start() {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		handler := &consumerGroupHandler{consumer: c}
		for {
			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Consume returns on every rebalance
			if c.ctx.Err() != nil {
				return
			}

			if c.ingestFailed.Swap(false) {
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(c.retryBackoff):
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.Info("Kafka consumer ready", "member_id", session.MemberID())
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches plays from a partition by size or time. Offsets are
// marked only after the batch holding the message has been stored. A failed
// batch ends the claim without marking, so the session restarts from the
// last committed offset.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer
	batch := make([]db.Play, 0, c.config.BatchSize)
	var last *sarama.ConsumerMessage

	batchTimer := time.NewTimer(c.config.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() error {
		if len(batch) > 0 {
			if err := c.processBatch(batch); err != nil {
				c.ingestFailed.Store(true)
				return err
			}
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Unmarked messages are redelivered to the next session.
			_ = flush()
			return nil

		case <-batchTimer.C:
			if err := flush(); err != nil {
				return err
			}
			batchTimer.Reset(c.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			last = message

			var msg PlayMessage
			if err := json.Unmarshal(message.Value, &msg); err != nil {
				c.logger.Warn("failed to unmarshal play message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, msg.Play())
			if len(batch) >= c.config.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				batchTimer.Reset(c.config.BatchTimeout)
			}
		}
	}
}

func (c *Consumer) processBatch(batch []db.Play) error {
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	res, err := c.ingester.Ingest(ctx, batch, db.SourceStream)
	if err != nil {
		c.logger.Error("failed to ingest batch", "error", err, "batch_size", len(batch))
		return fmt.Errorf("%w: %w", ErrBatchNotIngested, err)
	}
	c.logger.Debug("ingested batch",
		"batch_size", len(batch),
		"saved", res.Saved,
		"malformed", res.Malformed,
	)
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
