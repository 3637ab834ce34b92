// Package handlers holds the batch handlers shipped with lambdakit.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/vietddude/lambdakit/internal/core/domain"
	"github.com/vietddude/lambdakit/internal/infra/awsinfra"
	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

const defaultMaxObjectBytes = 256 << 10

// ObjectGetter fetches objects.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (*awsinfra.Object, error)
}

// Publisher sends messages to a queue.
type Publisher interface {
	Send(ctx context.Context, body string, attrs map[string]string) (string, error)
}

// QueryRunner runs Athena queries to completion.
type QueryRunner interface {
	Run(ctx context.Context, query string) (*awsinfra.QueryResult, error)
}

// RelayConfig configures the S3 notification relay.
type RelayConfig struct {
	// MaxObjectBytes bounds how much of each object is read
	MaxObjectBytes int64 `yaml:"max_object_bytes"`
	// QueryTemplate is an optional text/template rendered per object and run on Athena
	QueryTemplate string `yaml:"query_template"`
}

// ObjectSummary is published for every object referenced by a notification.
type ObjectSummary struct {
	Bucket           string    `json:"bucket"`
	Key              string    `json:"key"`
	EventName        string    `json:"event_name"`
	EventTime        time.Time `json:"event_time"`
	ContentType      string    `json:"content_type,omitempty"`
	Size             int64     `json:"size"`
	BytesRead        int64     `json:"bytes_read"`
	Lines            int       `json:"lines"`
	Truncated        bool      `json:"truncated"`
	QueryExecutionID string    `json:"query_execution_id,omitempty"`
	QueryOutput      string    `json:"query_output,omitempty"`
	ReceivedFrom     string    `json:"received_from"`
}

// queryData is exposed to the query template.
type queryData struct {
	Bucket    string
	Key       string
	Size      int64
	EventName string
}

// Relay consumes S3 event notifications delivered through a queue, summarises each
// object and forwards the summary to an output queue.
type Relay struct {
	objects ObjectGetter
	out     Publisher
	queries QueryRunner
	query   *template.Template
	maxRead int64
}

// NewRelay creates a Relay. queries may be nil when no query template is configured.
func NewRelay(cfg RelayConfig, objects ObjectGetter, out Publisher, queries QueryRunner) (*Relay, error) {
	r := &Relay{
		objects: objects,
		out:     out,
		queries: queries,
		maxRead: cfg.MaxObjectBytes,
	}
	if r.maxRead <= 0 {
		r.maxRead = defaultMaxObjectBytes
	}

	if cfg.QueryTemplate != "" {
		if queries == nil {
			return nil, errors.New("query template configured without an athena runner")
		}
		tmpl, err := template.New("query").Option("missingkey=error").Parse(cfg.QueryTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse query template: %w", err)
		}
		r.query = tmpl
	}
	return r, nil
}

// Handle processes one queue message carrying an S3 event.
func (r *Relay) Handle(ctx context.Context, item domain.BatchItem) error {
	var ev events.S3Event
	if err := json.Unmarshal(item.Payload, &ev); err != nil {
		return retry.NewHandlerError(fmt.Errorf("decode s3 event: %w", err))
	}

	// S3 sends a test event when a notification is configured
	if len(ev.Records) == 0 {
		slog.Debug("Ignoring message without s3 records", "item_id", item.ID)
		return nil
	}

	for _, rec := range ev.Records {
		if err := r.relay(ctx, item.ID, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) relay(ctx context.Context, itemID string, rec events.S3EventRecord) error {
	bucket := rec.S3.Bucket.Name
	key := rec.S3.Object.URLDecodedKey
	if key == "" {
		key = rec.S3.Object.Key
	}
	if bucket == "" || key == "" {
		return retry.NewHandlerError(fmt.Errorf("s3 record without bucket or key"))
	}

	summary, err := r.summarise(ctx, bucket, key)
	if err != nil {
		return err
	}
	summary.EventName = rec.EventName
	summary.EventTime = rec.EventTime
	summary.ReceivedFrom = itemID

	if r.query != nil {
		if err := r.runQuery(ctx, summary); err != nil {
			return err
		}
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	msgID, err := r.out.Send(ctx, string(body), map[string]string{
		"bucket":     bucket,
		"event_name": rec.EventName,
	})
	if err != nil {
		return err
	}

	slog.Info("Object relayed",
		"bucket", bucket,
		"key", key,
		"lines", summary.Lines,
		"truncated", summary.Truncated,
		"message_id", msgID,
	)
	return nil
}

func (r *Relay) summarise(ctx context.Context, bucket, key string) (*ObjectSummary, error) {
	obj, err := r.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	// One extra byte tells a truncated read from an exact fit
	data, err := io.ReadAll(io.LimitReader(obj, r.maxRead+1))
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	truncated := int64(len(data)) > r.maxRead
	if truncated {
		data = data[:r.maxRead]
	}

	return &ObjectSummary{
		Bucket:      bucket,
		Key:         key,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		BytesRead:   int64(len(data)),
		Lines:       countLines(data),
		Truncated:   truncated,
	}, nil
}

func (r *Relay) runQuery(ctx context.Context, summary *ObjectSummary) error {
	var sb strings.Builder
	err := r.query.Execute(&sb, queryData{
		Bucket:    summary.Bucket,
		Key:       summary.Key,
		Size:      summary.Size,
		EventName: summary.EventName,
	})
	if err != nil {
		return retry.NewHandlerError(fmt.Errorf("render query: %w", err))
	}

	res, err := r.queries.Run(ctx, sb.String())
	if err != nil {
		return err
	}
	summary.QueryExecutionID = res.ExecutionID
	summary.QueryOutput = res.OutputLocation
	return nil
}

func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	lines := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		lines++
	}
	return lines
}
