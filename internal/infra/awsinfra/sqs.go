package awsinfra

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

// SQSAPI is the subset of the SQS client used by Queue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Queue publishes messages to one SQS queue.
type Queue struct {
	api  SQSAPI
	exec *retry.Executor
	url  string
}

// NewQueue creates a Queue for queueURL.
func NewQueue(api SQSAPI, exec *retry.Executor, queueURL string) *Queue {
	return &Queue{api: api, exec: exec, url: queueURL}
}

// URL returns the target queue URL.
func (q *Queue) URL() string {
	return q.url
}

// Send publishes body with string attributes and returns the message id.
func (q *Queue) Send(ctx context.Context, body string, attrs map[string]string) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]sqstypes.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	out, err := retry.Execute(ctx, q.exec, "sqs.SendMessage", retry.OperationFunc[*sqs.SendMessageOutput](
		func(ctx context.Context) (*sqs.SendMessageOutput, error) {
			return q.api.SendMessage(ctx, input)
		}))
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", q.url, err)
	}
	return aws.ToString(out.MessageId), nil
}
