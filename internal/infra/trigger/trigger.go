// Package trigger converts Lambda queue and stream events into batch items and
// batch responses back into partial-failure reports.
package trigger

import (
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/vietddude/lambdakit/internal/core/domain"
)

// Attribute keys added to every converted item.
const (
	AttrEventSource  = "event_source"
	AttrSourceARN    = "event_source_arn"
	AttrPartitionKey = "partition_key"
	AttrEventID      = "event_id"
)

// FromSQS converts an SQS event. The item ID is the message id.
func FromSQS(ev events.SQSEvent) []domain.BatchItem {
	items := make([]domain.BatchItem, 0, len(ev.Records))
	for _, msg := range ev.Records {
		attrs := make(map[string]string, len(msg.Attributes)+len(msg.MessageAttributes)+2)
		for k, v := range msg.Attributes {
			attrs[k] = v
		}
		for k, v := range msg.MessageAttributes {
			if v.StringValue != nil {
				attrs[k] = *v.StringValue
			}
		}
		attrs[AttrEventSource] = msg.EventSource
		attrs[AttrSourceARN] = msg.EventSourceARN

		items = append(items, domain.BatchItem{
			ID:         msg.MessageId,
			Payload:    []byte(msg.Body),
			Attributes: attrs,
		})
	}
	return items
}

// ToSQSResponse builds the partial batch failure report.
func ToSQSResponse(resp domain.BatchResponse) events.SQSEventResponse {
	out := events.SQSEventResponse{
		BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(resp.FailedItemIDs)),
	}
	for _, id := range resp.FailedItemIDs {
		out.BatchItemFailures = append(out.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return out
}

// FromKinesis converts a Kinesis event. The item ID is the sequence number.
func FromKinesis(ev events.KinesisEvent) []domain.BatchItem {
	items := make([]domain.BatchItem, 0, len(ev.Records))
	for _, rec := range ev.Records {
		items = append(items, domain.BatchItem{
			ID:      rec.Kinesis.SequenceNumber,
			Payload: rec.Kinesis.Data,
			Attributes: map[string]string{
				AttrEventSource:  rec.EventSource,
				AttrSourceARN:    rec.EventSourceArn,
				AttrPartitionKey: rec.Kinesis.PartitionKey,
				AttrEventID:      rec.EventID,
			},
		})
	}
	return items
}

// ToKinesisResponse builds the partial batch failure report.
func ToKinesisResponse(resp domain.BatchResponse) events.KinesisEventResponse {
	out := events.KinesisEventResponse{
		BatchItemFailures: make([]events.KinesisBatchItemFailure, 0, len(resp.FailedItemIDs)),
	}
	for _, id := range resp.FailedItemIDs {
		out.BatchItemFailures = append(out.BatchItemFailures, events.KinesisBatchItemFailure{ItemIdentifier: id})
	}
	return out
}

// SourceName derives a short source name from an event source ARN:
// "arn:aws:sqs:eu-west-1:123:orders" -> "orders",
// "arn:aws:kinesis:eu-west-1:123:stream/clicks" -> "clicks".
func SourceName(arn string) string {
	if arn == "" {
		return "unknown"
	}
	name := arn[strings.LastIndex(arn, ":")+1:]
	return name[strings.LastIndex(name, "/")+1:]
}

// SQSSource returns the source name of the first record.
func SQSSource(ev events.SQSEvent) string {
	if len(ev.Records) == 0 {
		return SourceName("")
	}
	return SourceName(ev.Records[0].EventSourceARN)
}

// KinesisSource returns the source name of the first record.
func KinesisSource(ev events.KinesisEvent) string {
	if len(ev.Records) == 0 {
		return SourceName("")
	}
	return SourceName(ev.Records[0].EventSourceArn)
}
