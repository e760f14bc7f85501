package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/chaplin/healthboard/internal/models"
)

type fakeBucket struct {
	objects map[string]string
}

func (f *fakeBucket) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key := range f.objects {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeBucket) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, fmt.Errorf("no such key %q", aws.ToString(params.Key))
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

type fakeWriter struct {
	calls   int
	items   []map[string]ddbtypes.AttributeValue
	stumble bool
}

func (f *fakeWriter) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.calls++
	for table, requests := range params.RequestItems {
		// First call leaves one item unprocessed when stumbling.
		if f.stumble && f.calls == 1 {
			for _, req := range requests[:len(requests)-1] {
				f.items = append(f.items, req.PutRequest.Item)
			}
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]ddbtypes.WriteRequest{
					table: requests[len(requests)-1:],
				},
			}, nil
		}
		for _, req := range requests {
			f.items = append(f.items, req.PutRequest.Item)
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func stringAttr(item map[string]ddbtypes.AttributeValue, name string) string {
	if av, ok := item[name].(*ddbtypes.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}

func TestLoader_NormalizesArrayDocument(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{
		"exports/batch1.json": `{"events": [{
			"arn": "arn:aws:health:us-east-1::event/EC2/AWS_EC2_MAINTENANCE_SCHEDULED/abc",
			"accountId": "123456789012",
			"service": "EC2",
			"eventTypeCode": "AWS_EC2_MAINTENANCE_SCHEDULED",
			"eventTypeCategory": "scheduledChange",
			"statusCode": "upcoming",
			"region": "us-east-1",
			"startTime": "2025-07-01T00:00:00Z",
			"details": "Instance reboot required"
		}]}`,
	}}
	writer := &fakeWriter{}
	l := NewWithAPIs(bucket, writer, Config{Bucket: "b", Table: "health-events"}, nil)

	stats, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Objects != 1 || stats.Events != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(writer.items) != 1 {
		t.Fatalf("expected one written item, got %d", len(writer.items))
	}

	item := writer.items[0]
	if got := stringAttr(item, "healthkey"); got != "arn:aws:health:us-east-1::event/EC2/AWS_EC2_MAINTENANCE_SCHEDULED/abc" {
		t.Errorf("healthkey = %q", got)
	}
	if got := stringAttr(item, "eventCategory"); got != string(models.CategoryScheduledChange) {
		t.Errorf("eventCategory = %q", got)
	}
	if got := stringAttr(item, "event_type"); got != "AWS_EC2_MAINTENANCE_SCHEDULED" {
		t.Errorf("event_type = %q", got)
	}
	if got := stringAttr(item, "description"); got != "Instance reboot required" {
		t.Errorf("description = %q", got)
	}
	if got := stringAttr(item, "account"); got != "123456789012" {
		t.Errorf("account = %q", got)
	}
}

func TestLoader_SingleEventDocument(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{
		"exports/one.json": `{"arn": "arn:x", "service": "RDS", "eventTypeCode": "AWS_RDS_OPERATIONAL_ISSUE", "startTime": "2025-07-02T00:00:00Z"}`,
	}}
	writer := &fakeWriter{}
	l := NewWithAPIs(bucket, writer, Config{Bucket: "b", Table: "health-events"}, nil)

	stats, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Events != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := stringAttr(writer.items[0], "eventCategory"); got != string(models.CategoryIssue) {
		t.Errorf("eventCategory = %q, want issue default", got)
	}
	// Missing status falls back to unknown.
	if got := stringAttr(writer.items[0], "status_code"); got != "unknown" {
		t.Errorf("status_code = %q", got)
	}
}

func TestLoader_SkipsNonJSONAndBadObjects(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{
		"exports/readme.txt": "not events",
		"exports/bad.json":   "{broken",
		"exports/ok.json":    `{"arn": "arn:y", "service": "S3", "eventTypeCode": "AWS_S3_OPERATIONAL_NOTIFICATION"}`,
	}}
	writer := &fakeWriter{}
	l := NewWithAPIs(bucket, writer, Config{Bucket: "b", Table: "health-events"}, nil)

	stats, err := l.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Objects != 1 || stats.Skipped != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestLoader_RetriesUnprocessedItems(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]string{
		"exports/two.json": `{"events": [
			{"arn": "arn:1", "service": "EC2", "eventTypeCode": "A"},
			{"arn": "arn:2", "service": "RDS", "eventTypeCode": "B"}
		]}`,
	}}
	writer := &fakeWriter{stumble: true}
	l := NewWithAPIs(bucket, writer, Config{Bucket: "b", Table: "health-events"}, nil)

	if _, err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(writer.items) != 2 {
		t.Errorf("expected both items written after retry, got %d", len(writer.items))
	}
	if writer.calls < 2 {
		t.Errorf("expected a retry call, got %d calls", writer.calls)
	}
}

func TestDeriveCategory(t *testing.T) {
	tests := []struct {
		code     string
		category string
		want     models.Category
	}{
		{"AWS_EC2_MAINTENANCE_SCHEDULED", "", models.CategoryScheduledChange},
		{"AWS_RDS_SCHEDULED_CHANGE", "scheduledChange", models.CategoryScheduledChange},
		{"AWS_BILLING_NOTIFICATION", "accountNotification", models.CategoryAccountNotification},
		{"AWS_HEALTH_INVESTIGATION_OPEN", "", models.CategoryInvestigation},
		{"AWS_EC2_OPERATIONAL_ISSUE", "issue", models.CategoryIssue},
	}
	for _, tt := range tests {
		got := deriveCategory(rawEvent{EventTypeCode: tt.code, EventTypeCategory: tt.category})
		if got != tt.want {
			t.Errorf("deriveCategory(%q, %q) = %v, want %v", tt.code, tt.category, got, tt.want)
		}
	}
}
