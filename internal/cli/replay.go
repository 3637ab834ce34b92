package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	replayEvent   string
	replayKinesis bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Process an event file locally and print the batch response",
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayEvent, "event", "", "path to an SQS or Kinesis event JSON file")
	replayCmd.Flags().BoolVar(&replayKinesis, "kinesis", false, "treat the event as a Kinesis event")
	_ = replayCmd.MarkFlagRequired("event")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(replayEvent)
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}

	app, h, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	ctx := lambdacontext.NewContext(cmd.Context(), &lambdacontext.LambdaContext{AwsRequestID: uuid.NewString()})

	var resp any
	if replayKinesis {
		resp, err = replayKinesisEvent(ctx, data, app.KinesisHandler(h))
	} else {
		resp, err = replaySQSEvent(ctx, data, app.SQSHandler(h))
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func replaySQSEvent(
	ctx context.Context,
	data []byte,
	h func(context.Context, events.SQSEvent) (events.SQSEventResponse, error),
) (any, error) {
	var ev events.SQSEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid sqs event: %w", err)
	}
	// Hand-written events often omit message ids
	for i := range ev.Records {
		if ev.Records[i].MessageId == "" {
			ev.Records[i].MessageId = uuid.NewString()
		}
	}
	slog.Info("Replaying sqs event", "records", len(ev.Records))
	return h(ctx, ev)
}

func replayKinesisEvent(
	ctx context.Context,
	data []byte,
	h func(context.Context, events.KinesisEvent) (events.KinesisEventResponse, error),
) (any, error) {
	var ev events.KinesisEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid kinesis event: %w", err)
	}
	slog.Info("Replaying kinesis event", "records", len(ev.Records))
	return h(ctx, ev)
}
