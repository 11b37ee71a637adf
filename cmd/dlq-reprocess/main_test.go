package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

// deadLetterValue собирает запись DLQ в том виде, в каком её пишет outbox worker.
func deadLetterValue(t *testing.T, eventType string, payload string) []byte {
	t.Helper()
	letter := domain.DeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "42",
		EventType:     eventType,
		PublishError:  "crm status 500",
		FailedAt:      time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	if payload != "" {
		letter.Payload = json.RawMessage(payload)
	}
	raw, err := json.Marshal(letter)
	require.NoError(t, err)
	value, err := json.Marshal(kafka.NewEnvelope(domain.OutboxMessage{
		ID:            letter.OutboxID,
		AggregateType: letter.AggregateType,
		AggregateID:   letter.AggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, letter.FailedAt))
	require.NoError(t, err)
	return value
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestExtractReplayMessage_DeadLetter(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":42,"domain":"moskva.example.com"}`)}

	got, ok, err := extractReplayMessage(message, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, got.ID, "replayed job gets a new outbox id")
	require.Equal(t, domain.EventCRMOrderCreated, got.EventType)
	require.Equal(t, domain.AggregateOrder, got.AggregateType)
	require.Equal(t, "42", got.AggregateID)
	require.JSONEq(t, `{"order_id":42,"domain":"moskva.example.com"}`, string(got.Payload))
}

func TestExtractReplayMessage_EventTypeFilter(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: deadLetterValue(t, domain.EventFeedRebuild, `{"city_group_id":1}`)}

	_, ok, err := extractReplayMessage(message, domain.EventCRMOrderCreated)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = extractReplayMessage(message, domain.EventFeedRebuild)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExtractReplayMessage_MissingOriginalPayload(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: deadLetterValue(t, domain.EventCRMOrderCreated, "")}

	_, ok, err := extractReplayMessage(message, "")
	require.ErrorIs(t, err, errNoOriginalPayload)
	require.False(t, ok)
}

func TestExtractReplayMessage_InvalidDeadLetter(t *testing.T) {
	message := &sarama.ConsumerMessage{Value: []byte(`{"id":"x","event_type":"crm.order_created","payload":"not-an-object"}`)}

	_, ok, err := extractReplayMessage(message, "")
	require.Error(t, err)
	require.False(t, ok)
}

func TestExtractReplayMessage_UnknownPayload(t *testing.T) {
	for _, value := range []string{`{"foo":"bar"}`, "not json"} {
		_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Fatalf("expected message %q to be skipped", value)
		}
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=storefront.dlq",
		"-dsn=postgres://localhost/storefront",
		"-event-type=crm.order_created",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.limit != 10 {
			t.Fatalf("unexpected limit: %d", cfg.limit)
		}
		if !cfg.execute || !cfg.fromNewest {
			t.Fatalf("unexpected flags: %+v", cfg)
		}
		if cfg.eventType != domain.EventCRMOrderCreated {
			t.Fatalf("unexpected event type: %s", cfg.eventType)
		}
		if cfg.idleTimeout.Seconds() != 3 {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
	})
}

func TestReadConfig_EnvFallback(t *testing.T) {
	t.Setenv("STOREFRONT_KAFKA_BROKERS", "env-broker:9092")
	t.Setenv("STOREFRONT_POSTGRES_DSN", "postgres://env/storefront")

	withFlagArgs(t, []string{"-execute=true"}, func() {
		cfg, err := readConfig()
		require.NoError(t, err)
		require.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
		require.Equal(t, "postgres://env/storefront", cfg.dsn)
		require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	t.Setenv("STOREFRONT_KAFKA_BROKERS", "")
	t.Setenv("STOREFRONT_POSTGRES_DSN", "")

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"-brokers="}, "kafka brokers are required"},
		{[]string{"-brokers=broker:9092", "-source-topic="}, "source-topic is required"},
		{[]string{"-brokers=broker:9092", "-execute=true"}, "postgres dsn is required"},
		{[]string{"-brokers=broker:9092", "-limit=0"}, "limit must be > 0"},
		{[]string{"-brokers=broker:9092", "-idle-timeout=0s"}, "idle-timeout must be > 0"},
	}
	for _, tc := range cases {
		withFlagArgs(t, tc.args, func() {
			_, err := readConfig()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("args %v: expected %q, got: %v", tc.args, tc.want, err)
			}
		})
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":42}`),
			}}),
		},
	}

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_ExecuteEnqueuesIntoOutbox(t *testing.T) {
	client := &stubOffsetClient{
		offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":42}`)},
				{Partition: 0, Offset: 1, Value: []byte("garbage")},
				{Partition: 0, Offset: 2, Value: deadLetterValue(t, domain.EventFeedRebuild, `{"city_group_id":1}`)},
			}),
		},
	}
	sink := newStubSink()

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, sink, cfg, 0, 10)
	require.NoError(t, err)
	require.Equal(t, partitionStats{processed: 3, replayed: 2, skipped: 1}, stats)

	pending := sink.repo.AllPending()
	require.Len(t, pending, 2)
	require.Equal(t, domain.EventCRMOrderCreated, pending[0].EventType)
	require.NotEqual(t, "outbox-1", pending[0].ID)
	require.Equal(t, domain.EventFeedRebuild, pending[1].EventType)
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, execute: true, idleTimeout: 20 * time.Millisecond}

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, newStubSink(), cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, newStubSink(), cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, newStubSink(), cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcBadPayload := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"id":"x","event_type":"feed.rebuild","payload":"not-an-object"}`),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcBadPayload}}
	stats, err := processPartition(context.Background(), consumer, client, newStubSink(), cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	pcOK := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":42}`),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcOK}}
	sink := newStubSink()
	sink.err = errors.New("insert failed")
	if _, err := processPartition(context.Background(), consumer, client, sink, cfg, 0, 1); err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 10 * time.Millisecond}

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, idleTimeout: 20 * time.Millisecond}

	if err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":1}`)}}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":2}`)}}),
		},
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if len(consumer.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(consumer.calls))
	}
	if consumer.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", consumer.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require outbox sink")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, execute: true, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(context.Context, config) (offsetClient, partitionConsumerSource, replaySink, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":42}`)}}),
		},
	}
	sink := newStubSink()

	newReplayDependencies = func(context.Context, config) (offsetClient, partitionConsumerSource, replaySink, error) {
		return client, consumer, sink, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !sink.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v sink=%v", client.closed, consumer.closed, sink.closed)
	}
	require.Len(t, sink.repo.AllPending(), 1)
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	defer func() {
		newReplayDependencies = oldDeps
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: deadLetterValue(t, domain.EventCRMOrderCreated, `{"order_id":42}`)}}),
		},
	}
	newReplayDependencies = func(context.Context, config) (offsetClient, partitionConsumerSource, replaySink, error) {
		return client, consumer, nil, nil
	}

	os.Args = []string{"dlq-reprocess", "-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	main()
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type stubSink struct {
	repo   *memory.OutboxRepository
	err    error
	closed bool
}

func newStubSink() *stubSink {
	return &stubSink{repo: memory.NewOutboxRepository()}
}

func (s *stubSink) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if s.err != nil {
		return domain.OutboxMessage{}, s.err
	}
	return s.repo.Enqueue(ctx, msg)
}

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}
