package bus

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig 消费者参数；默认值与原有部署一致。
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	Topic          string
	SessionTimeout time.Duration
	CommitInterval time.Duration
	MinBytes       int
	MaxBytes       int
}

const (
	DefaultBroker  = "localhost:9092"
	DefaultGroupID = "trader"
	DefaultTopic   = "intended-trades"
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource 从 consumer group 拉取消息。不自动提交：消息 Ack 后按分区提交
// 连续已处理的最高位点（至少一次语义）。
// Ack 只登记提交点，由单独的 committer goroutine 合并后提交，Ack 不等待网络。
type KafkaSource struct {
	reader       kafkaReader
	tracker      *offsetTracker
	logger       *zap.Logger
	errorPause   time.Duration
	flushTimeout time.Duration

	mu      sync.Mutex
	pending map[int]kafka.Message // 每个分区只保留最新的提交点

	wake         chan struct{}
	stop         chan struct{}
	stopped      chan struct{}
	commitCtx    context.Context
	cancelCommit context.CancelFunc
	closeOnce    sync.Once
	closeErr     error
}

// NewKafkaSource builds a reader-backed source.
func NewKafkaSource(cfg KafkaConfig, logger *zap.Logger) *KafkaSource {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{DefaultBroker}
	}
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultGroupID
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 6 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		SessionTimeout: cfg.SessionTimeout,
		CommitInterval: cfg.CommitInterval,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		ErrorLogger:    kafka.LoggerFunc(sugar.Errorf),
	})
	return newKafkaSource(r, logger)
}

func newKafkaSource(r kafkaReader, logger *zap.Logger) *KafkaSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &KafkaSource{
		reader:       r,
		tracker:      newOffsetTracker(),
		logger:       logger,
		errorPause:   time.Second,
		flushTimeout: 5 * time.Second,
		pending:      make(map[int]kafka.Message),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		commitCtx:    ctx,
		cancelCommit: cancel,
	}
	go s.runCommitter()
	return s
}

func (s *KafkaSource) Stream(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			km, err := s.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				if !yield(Message{}, err) {
					return
				}
				if !sleepCtx(ctx, s.errorPause) {
					return
				}
				continue
			}
			s.tracker.Fetched(km.Partition, km.Offset)
			msg := Message{
				Topic:     km.Topic,
				Partition: km.Partition,
				Offset:    km.Offset,
				Key:       km.Key,
				Payload:   km.Value,
				Time:      km.Time,
			}
			topic, partition, offset := km.Topic, km.Partition, km.Offset
			msg = msg.WithAck(func() { s.ack(topic, partition, offset) })
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (s *KafkaSource) ack(topic string, partition int, offset int64) {
	s.mu.Lock()
	commit, ok := s.tracker.Done(partition, offset)
	if ok {
		s.pending[partition] = kafka.Message{Topic: topic, Partition: partition, Offset: commit}
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *KafkaSource) runCommitter() {
	defer close(s.stopped)
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

// flush 提交当前登记的全部提交点；提交点单调递增，只有本 goroutine 调用 CommitMessages。
func (s *KafkaSource) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]kafka.Message, 0, len(s.pending))
	for _, m := range s.pending {
		batch = append(batch, m)
	}
	clear(s.pending)
	s.mu.Unlock()

	if err := s.reader.CommitMessages(s.commitCtx, batch...); err != nil {
		for _, m := range batch {
			s.logger.Warn("kafka_commit_failed",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

// Pending returns the number of fetched but unacknowledged messages.
func (s *KafkaSource) Pending() int { return s.tracker.Pending() }

// Close 先提交剩余的提交点（最多等待 flushTimeout），再关闭 reader。
func (s *KafkaSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		t := time.NewTimer(s.flushTimeout)
		select {
		case <-s.stopped:
		case <-t.C:
			s.logger.Warn("kafka_commit_flush_timeout", zap.Duration("timeout", s.flushTimeout))
			s.cancelCommit()
			<-s.stopped
		}
		t.Stop()
		s.cancelCommit()
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
