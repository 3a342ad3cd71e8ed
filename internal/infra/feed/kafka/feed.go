// Package kafka implements an image feed that drains a manifest topic. The
// feed is bounded: it reads every partition from the oldest offset up to the
// high-water mark observed at start, then reports exhaustion, so a Kafka-fed
// run still behaves as a finite batch.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/pkg/common/logger"
)

// Config contains the settings needed to drain a manifest topic.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// manifestMessage is the wire shape of one image reference on the topic.
type manifestMessage struct {
	Customer   string `json:"customer"`
	UploadDate string `json:"upload_date"`
	Filename   string `json:"filename"`
}

// Feed drains a manifest topic into a lazy sequence of image references.
type Feed struct {
	client   sarama.Client
	consumer sarama.Consumer

	refs chan tracking.ImageRef
	errs chan error

	closeOnce sync.Once
	done      chan struct{}

	logger *logger.Logger
}

// Connect establishes the Kafka client with exponential backoff and starts
// draining the topic. The returned feed must be closed by the caller.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Feed, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Version = sarama.V3_6_0_0

	var client sarama.Client

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 2 * time.Minute
	expBackoff.InitialInterval = 2 * time.Second

	operation := func() error {
		var err error
		client, err = sarama.NewClient(cfg.Brokers, saramaCfg)
		if err != nil {
			return fmt.Errorf("creating kafka client: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect manifest feed after retries: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating consumer: %w", err)
	}

	f := &Feed{
		client:   client,
		consumer: consumer,
		refs:     make(chan tracking.ImageRef, 64),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		logger:   log.With("component", "kafka_feed", "topic", cfg.Topic),
	}

	if err := f.start(ctx, cfg.Topic); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// partitionSpan bounds one partition's drain: begin is the log-start offset,
// end the high-water mark captured when the feed started.
type partitionSpan struct {
	partition int32
	begin     int64
	end       int64
}

// partitionSpans resolves the drainable offset range of every partition.
// Partitions with nothing left to read are omitted: an empty partition has
// end == 0, and a retention-truncated one has its log-start offset advanced
// to the high-water mark, so consuming from the oldest offset would wait on
// messages that no longer exist.
func partitionSpans(client sarama.Client, topic string) ([]partitionSpan, error) {
	partitions, err := client.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("listing partitions for %s: %w", topic, err)
	}

	spans := make([]partitionSpan, 0, len(partitions))
	for _, partition := range partitions {
		begin, err := client.GetOffset(topic, partition, sarama.OffsetOldest)
		if err != nil {
			return nil, fmt.Errorf("resolving start offset for %s/%d: %w", topic, partition, err)
		}
		end, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
		if err != nil {
			return nil, fmt.Errorf("resolving end offset for %s/%d: %w", topic, partition, err)
		}
		if begin >= end {
			continue
		}
		spans = append(spans, partitionSpan{partition: partition, begin: begin, end: end})
	}
	return spans, nil
}

// start launches one drain goroutine per drainable partition. The refs channel
// closes once every partition has reached the high-water mark captured here.
func (f *Feed) start(ctx context.Context, topic string) error {
	spans, err := partitionSpans(f.client, topic)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, span := range spans {
		pc, err := f.consumer.ConsumePartition(topic, span.partition, span.begin)
		if err != nil {
			return fmt.Errorf("consuming %s/%d: %w", topic, span.partition, err)
		}

		wg.Add(1)
		go f.drainPartition(ctx, pc, span.end, &wg)
	}

	go func() {
		wg.Wait()
		close(f.refs)
	}()

	f.logger.Info(ctx, "Manifest feed draining", "partitions", len(spans))
	return nil
}

func (f *Feed) drainPartition(ctx context.Context, pc sarama.PartitionConsumer, end int64, wg *sync.WaitGroup) {
	defer wg.Done()
	defer pc.Close()

	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}

			var m manifestMessage
			if err := json.Unmarshal(msg.Value, &m); err != nil {
				f.reportError(fmt.Errorf("decoding manifest message at offset %d: %w", msg.Offset, err))
				return
			}

			uploadDate, err := time.Parse("2006-01-02", m.UploadDate)
			if err != nil {
				f.reportError(fmt.Errorf("parsing upload date %q at offset %d: %w", m.UploadDate, msg.Offset, err))
				return
			}

			select {
			case f.refs <- tracking.NewImageRef(m.Customer, uploadDate, m.Filename):
			case <-ctx.Done():
				return
			case <-f.done:
				return
			}

			if msg.Offset >= end-1 {
				return
			}

		case err := <-pc.Errors():
			f.reportError(fmt.Errorf("partition consumer error: %w", err))
			return

		case <-ctx.Done():
			return

		case <-f.done:
			return
		}
	}
}

func (f *Feed) reportError(err error) {
	select {
	case f.errs <- err:
	default:
	}
}

// Next returns the next manifest entry, ok=false once every partition has
// been drained, or the first error the drain encountered.
func (f *Feed) Next(ctx context.Context) (tracking.ImageRef, bool, error) {
	select {
	case err := <-f.errs:
		return tracking.ImageRef{}, false, err
	case ref, ok := <-f.refs:
		if !ok {
			// Drained; surface a late error if one raced the close.
			select {
			case err := <-f.errs:
				return tracking.ImageRef{}, false, err
			default:
			}
			// A canceled context also stops the drain goroutines, which
			// closes refs. That is an abort, not exhaustion.
			if err := ctx.Err(); err != nil {
				return tracking.ImageRef{}, false, err
			}
			return tracking.ImageRef{}, false, nil
		}
		return ref, true, nil
	case <-ctx.Done():
		return tracking.ImageRef{}, false, ctx.Err()
	}
}

// Close stops the drain and releases the consumer and client.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if cErr := f.consumer.Close(); cErr != nil {
			err = cErr
		}
		if cErr := f.client.Close(); cErr != nil && err == nil {
			err = cErr
		}
	})
	return err
}
