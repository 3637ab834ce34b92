package trigger

import (
	"context"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/reliability/batch"
)

// Processor runs a handler over a batch.
type Processor interface {
	Process(ctx context.Context, items []domain.BatchItem, handler batch.Handler) domain.BatchResponse
}

// ProcessorFactory returns the processor for one invocation from source.
type ProcessorFactory func(source string) Processor

// SQSHandler returns a Lambda handler for SQS triggers reporting partial batch failures.
func SQSHandler(newProcessor ProcessorFactory, h batch.Handler) func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		source := SQSSource(ev)
		resp := newProcessor(source).Process(ctx, FromSQS(ev), h)
		logInvocation(ctx, "sqs", source, len(ev.Records), resp)
		return ToSQSResponse(resp), nil
	}
}

// KinesisHandler returns a Lambda handler for Kinesis triggers reporting partial batch failures.
func KinesisHandler(newProcessor ProcessorFactory, h batch.Handler) func(context.Context, events.KinesisEvent) (events.KinesisEventResponse, error) {
	return func(ctx context.Context, ev events.KinesisEvent) (events.KinesisEventResponse, error) {
		source := KinesisSource(ev)
		resp := newProcessor(source).Process(ctx, FromKinesis(ev), h)
		logInvocation(ctx, "kinesis", source, len(ev.Records), resp)
		return ToKinesisResponse(resp), nil
	}
}

func logInvocation(ctx context.Context, kind, source string, total int, resp domain.BatchResponse) {
	args := []any{
		"trigger", kind,
		"source", source,
		"items", total,
		"failed", len(resp.FailedItemIDs),
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		args = append(args, "request_id", lc.AwsRequestID)
	}
	if resp.Empty() {
		slog.Info("Batch processed", args...)
	} else {
		slog.Warn("Batch processed with failures", args...)
	}
}
