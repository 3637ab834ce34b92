package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/reliability/batch"
)

func sqsEvent(ids ...string) events.SQSEvent {
	ev := events.SQSEvent{}
	for _, id := range ids {
		ev.Records = append(ev.Records, events.SQSMessage{
			MessageId:      id,
			Body:           "body-" + id,
			EventSource:    "aws:sqs",
			EventSourceARN: "arn:aws:sqs:eu-west-1:123456789012:orders",
			Attributes:     map[string]string{"ApproximateReceiveCount": "1"},
			MessageAttributes: map[string]events.SQSMessageAttribute{
				"tenant": {StringValue: strPtr("acme"), DataType: "String"},
				"blob":   {BinaryValue: []byte{1}, DataType: "Binary"},
			},
		})
	}
	return ev
}

func strPtr(s string) *string { return &s }

func TestFromSQS(t *testing.T) {
	items := FromSQS(sqsEvent("m-1", "m-2"))
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	item := items[1]
	if item.ID != "m-2" || string(item.Payload) != "body-m-2" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.Attributes["tenant"] != "acme" || item.Attributes["ApproximateReceiveCount"] != "1" {
		t.Errorf("attributes not copied: %v", item.Attributes)
	}
	if _, ok := item.Attributes["blob"]; ok {
		t.Error("binary attributes should be skipped")
	}
	if item.Attributes[AttrSourceARN] == "" {
		t.Error("expected source arn attribute")
	}
}

func TestFromKinesis(t *testing.T) {
	ev := events.KinesisEvent{Records: []events.KinesisEventRecord{{
		EventID:        "shardId-000:1",
		EventSource:    "aws:kinesis",
		EventSourceArn: "arn:aws:kinesis:eu-west-1:123456789012:stream/clicks",
		Kinesis: events.KinesisRecord{
			SequenceNumber: "4959",
			PartitionKey:   "user-7",
			Data:           []byte(`{"click":1}`),
		},
	}}}

	items := FromKinesis(ev)
	if len(items) != 1 || items[0].ID != "4959" || string(items[0].Payload) != `{"click":1}` {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Attributes[AttrPartitionKey] != "user-7" {
		t.Errorf("expected partition key, got %v", items[0].Attributes)
	}
	if KinesisSource(ev) != "clicks" {
		t.Errorf("expected source clicks, got %s", KinesisSource(ev))
	}
}

func TestResponses(t *testing.T) {
	resp := domain.BatchResponse{FailedItemIDs: []string{"b", "d"}}

	sqsResp := ToSQSResponse(resp)
	if len(sqsResp.BatchItemFailures) != 2 || sqsResp.BatchItemFailures[1].ItemIdentifier != "d" {
		t.Errorf("unexpected sqs response: %+v", sqsResp)
	}

	kinResp := ToKinesisResponse(resp)
	if len(kinResp.BatchItemFailures) != 2 || kinResp.BatchItemFailures[0].ItemIdentifier != "b" {
		t.Errorf("unexpected kinesis response: %+v", kinResp)
	}

	if empty := ToSQSResponse(domain.BatchResponse{}); empty.BatchItemFailures == nil || len(empty.BatchItemFailures) != 0 {
		t.Errorf("expected empty, non-nil failures list")
	}
}

func TestSourceName(t *testing.T) {
	tests := map[string]string{
		"arn:aws:sqs:eu-west-1:123:orders":        "orders",
		"arn:aws:kinesis:eu-west-1:123:stream/ck": "ck",
		"":      "unknown",
		"plain": "plain",
	}
	for arn, want := range tests {
		if got := SourceName(arn); got != want {
			t.Errorf("SourceName(%q) = %q, want %q", arn, got, want)
		}
	}
}

type recordingFactory struct {
	mu      sync.Mutex
	sources []string
}

func (f *recordingFactory) New(source string) Processor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	return batch.NewCoordinator(batch.DefaultConfig, source, nil, nil)
}

func TestSQSHandler_ReportsOnlyFailures(t *testing.T) {
	factory := &recordingFactory{}
	handler := SQSHandler(factory.New, func(ctx context.Context, item domain.BatchItem) error {
		if item.ID == "m-2" {
			return errors.New("bad payload")
		}
		return nil
	})

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})
	resp, err := handler(ctx, sqsEvent("m-1", "m-2", "m-3"))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m-2" {
		t.Errorf("expected [m-2], got %+v", resp.BatchItemFailures)
	}
	if len(factory.sources) != 1 || factory.sources[0] != "orders" {
		t.Errorf("expected one coordinator for orders, got %v", factory.sources)
	}
}

func TestKinesisHandler_AllSucceed(t *testing.T) {
	factory := &recordingFactory{}
	handler := KinesisHandler(factory.New, func(ctx context.Context, item domain.BatchItem) error { return nil })

	ev := events.KinesisEvent{Records: []events.KinesisEventRecord{
		{Kinesis: events.KinesisRecord{SequenceNumber: "1"}},
		{Kinesis: events.KinesisRecord{SequenceNumber: "2"}},
	}}
	resp, err := handler(context.Background(), ev)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("expected no failures, got %+v", resp.BatchItemFailures)
	}
}
