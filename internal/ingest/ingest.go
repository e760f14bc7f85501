// Package ingest loads exported health-event documents from S3 into the
// DynamoDB table the dashboard reads.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/chaplin/healthboard/internal/models"
)

const (
	batchSize     = 25
	batchAttempts = 3
)

// ObjectAPI is the slice of the S3 client the loader needs.
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// WriteAPI is the slice of the DynamoDB client the loader needs.
type WriteAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

type Config struct {
	Bucket        string
	Prefix        string
	Table         string
	Region        string
	AssumeRoleARN string
	ExternalID    string
	Endpoint      string
}

// rawEvent is the shape written by the collector pipeline, camelCase keys
// straight from the Health API.
type rawEvent struct {
	ARN               string `json:"arn"`
	Account           string `json:"accountId"`
	Service           string `json:"service"`
	EventTypeCode     string `json:"eventTypeCode"`
	EventTypeCategory string `json:"eventTypeCategory"`
	StatusCode        string `json:"statusCode"`
	Region            string `json:"region"`
	StartTime         string `json:"startTime"`
	EndTime           string `json:"endTime"`
	LastUpdatedTime   string `json:"lastUpdatedTime"`
	EventScopeCode    string `json:"eventScopeCode"`
	Details           string `json:"details"`
}

// document is one S3 object: either {"events": [...]} or a single event.
type document struct {
	Events []rawEvent `json:"events"`
	rawEvent
}

// record is the table item shape. The dashboard reads a subset of these
// fields; the rest are kept for other consumers of the table.
type record struct {
	HealthKey         string               `dynamodbav:"healthkey"`
	ARN               string               `dynamodbav:"arn"`
	Account           string               `dynamodbav:"account,omitempty"`
	EventType         string               `dynamodbav:"event_type"`
	EventCategory     string               `dynamodbav:"eventCategory"`
	Name              string               `dynamodbav:"name"`
	Summary           *models.EventSummary `dynamodbav:"__summary"`
	StatusCode        string               `dynamodbav:"status_code"`
	StartTime         string               `dynamodbav:"start_time"`
	LastUpdate        string               `dynamodbav:"last_update"`
	Service           string               `dynamodbav:"service"`
	EventTypeCode     string               `dynamodbav:"event_type_code"`
	EventTypeCategory string               `dynamodbav:"event_type_category"`
	Region            string               `dynamodbav:"region"`
	EndTime           string               `dynamodbav:"end_time"`
	LastUpdatedTime   string               `dynamodbav:"last_updated_time"`
	EventScopeCode    string               `dynamodbav:"event_scope_code"`
	Description       string               `dynamodbav:"description"`
	Details           string               `dynamodbav:"details"`
	RawData           string               `dynamodbav:"raw_data"`
}

// Loader walks a bucket prefix and batch-writes normalized records.
type Loader struct {
	objects ObjectAPI
	writer  WriteAPI
	cfg     Config
	logger  *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	writer := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Loader{
		objects: s3.NewFromConfig(awsCfg),
		writer:  writer,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// NewWithAPIs wires existing clients. Tests use this with fakes.
func NewWithAPIs(objects ObjectAPI, writer WriteAPI, cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{objects: objects, writer: writer, cfg: cfg, logger: logger}
}

// Stats summarizes one loader run.
type Stats struct {
	Objects int
	Events  int
	Skipped int
}

// Run lists every .json object under the configured prefix and loads it.
// Unreadable objects are skipped with a log line; write failures abort.
func (l *Loader) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(l.cfg.Bucket),
		Prefix: aws.String(l.cfg.Prefix),
	}

	for {
		out, err := l.objects.ListObjectsV2(ctx, input)
		if err != nil {
			return stats, fmt.Errorf("listing s3://%s/%s: %w", l.cfg.Bucket, l.cfg.Prefix, err)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				stats.Skipped++
				continue
			}

			n, err := l.loadObject(ctx, key)
			if err != nil {
				l.logger.Error("loading object", "key", key, "error", err)
				stats.Skipped++
				continue
			}
			stats.Objects++
			stats.Events += n
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	l.logger.Info("ingest complete",
		"objects", stats.Objects, "events", stats.Events, "skipped", stats.Skipped)
	return stats, nil
}

func (l *Loader) loadObject(ctx context.Context, key string) (int, error) {
	out, err := l.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("fetching object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return 0, fmt.Errorf("reading object body: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decoding document: %w", err)
	}

	events := doc.Events
	if len(events) == 0 {
		if doc.ARN == "" {
			return 0, fmt.Errorf("unrecognized document format")
		}
		events = []rawEvent{doc.rawEvent}
	}

	items := make([]map[string]ddbtypes.AttributeValue, 0, len(events))
	for _, raw := range events {
		rec := normalize(raw)
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return 0, fmt.Errorf("marshaling record %s: %w", rec.HealthKey, err)
		}
		items = append(items, item)
	}

	if err := l.writeBatches(ctx, items); err != nil {
		return 0, err
	}
	return len(events), nil
}

// normalize maps a collector event to the table item shape, deriving the
// coarse category from the event type code and filling the summary block
// the dashboard renders.
func normalize(raw rawEvent) record {
	title := "Health Event"
	switch {
	case raw.Service != "" && raw.EventTypeCode != "":
		title = raw.Service + " - " + raw.EventTypeCode
	case raw.Service != "":
		title = raw.Service
	case raw.EventTypeCode != "":
		title = raw.EventTypeCode
	}

	lastUpdate := raw.LastUpdatedTime
	if lastUpdate == "" {
		lastUpdate = raw.StartTime
	}

	status := raw.StatusCode
	if status == "" {
		status = "unknown"
	}

	key := raw.ARN
	if key == "" {
		key = hashKey(raw)
	}

	return record{
		HealthKey:     key,
		ARN:           raw.ARN,
		Account:       raw.Account,
		EventType:     raw.EventTypeCode,
		EventCategory: string(deriveCategory(raw)),
		Name:          raw.Service + " Health Event",
		Summary: &models.EventSummary{
			Title: title,
			Risk:  "N/A",
			Schedule: []models.ScheduleEntry{
				{Event: raw.EventTypeCode, Datetime: raw.StartTime},
			},
		},
		StatusCode:        status,
		StartTime:         raw.StartTime,
		LastUpdate:        lastUpdate,
		Service:           raw.Service,
		EventTypeCode:     raw.EventTypeCode,
		EventTypeCategory: raw.EventTypeCategory,
		Region:            raw.Region,
		EndTime:           raw.EndTime,
		LastUpdatedTime:   raw.LastUpdatedTime,
		EventScopeCode:    raw.EventScopeCode,
		Description:       raw.Details,
		Details:           raw.Details,
		RawData:           mustJSON(raw),
	}
}

func deriveCategory(raw rawEvent) models.Category {
	code := strings.ToLower(raw.EventTypeCode)
	switch {
	case strings.Contains(code, "scheduled") || strings.Contains(code, "maintenance"):
		return models.CategoryScheduledChange
	case raw.EventTypeCategory == string(models.CategoryAccountNotification):
		return models.CategoryAccountNotification
	case strings.Contains(code, "investigation"):
		return models.CategoryInvestigation
	}
	return models.CategoryIssue
}

// hashKey covers events without an ARN; the digest of the raw payload
// keeps re-runs idempotent.
func hashKey(raw rawEvent) string {
	sum := sha256.Sum256([]byte(mustJSON(raw)))
	return hex.EncodeToString(sum[:])
}

func mustJSON(raw rawEvent) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(data)
}

// writeBatches writes in chunks of 25, retrying unprocessed items with a
// short backoff.
func (l *Loader) writeBatches(ctx context.Context, items []map[string]ddbtypes.AttributeValue) error {
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		requests := make([]ddbtypes.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			requests = append(requests, ddbtypes.WriteRequest{
				PutRequest: &ddbtypes.PutRequest{Item: item},
			})
		}

		pending := map[string][]ddbtypes.WriteRequest{l.cfg.Table: requests}
		for attempt := 1; ; attempt++ {
			out, err := l.writer.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return fmt.Errorf("batch write: %w", err)
			}
			if len(out.UnprocessedItems) == 0 {
				break
			}
			if attempt >= batchAttempts {
				return fmt.Errorf("batch write: %d items unprocessed after %d attempts",
					len(out.UnprocessedItems[l.cfg.Table]), attempt)
			}
			pending = out.UnprocessedItems
			select {
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
