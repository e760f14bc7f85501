package eventstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/chaplin/healthboard/internal/models"
)

// ScanAPI is the slice of the DynamoDB client the event store needs.
type ScanAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Config struct {
	Table         string
	Region        string
	AssumeRoleARN string
	ExternalID    string
	Endpoint      string
}

// Client reads the append-only health-events table. It is strictly
// read-only: the ingest pipeline owns all writes.
type Client struct {
	api    ScanAPI
	table  string
	logger *slog.Logger
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
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

	api := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Client{api: api, table: cfg.Table, logger: logger}, nil
}

// NewWithAPI wires an existing DynamoDB client. Tests use this with a fake.
func NewWithAPI(api ScanAPI, table string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, table: table, logger: logger}
}

// ScanOptions narrows a full-table scan. A nil Filter scans everything;
// an empty Projection returns whole records.
type ScanOptions struct {
	Filter     *expression.ConditionBuilder
	Projection []string
}

// ScanAll runs a table scan to exhaustion, following continuation keys and
// concatenating every page before returning. Callers never see a partial
// page. A scan failure on any page fails the whole call.
func (c *Client) ScanAll(ctx context.Context, opts ScanOptions) ([]models.HealthEvent, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(c.table),
	}

	if opts.Filter != nil || len(opts.Projection) > 0 {
		builder := expression.NewBuilder()
		if opts.Filter != nil {
			builder = builder.WithFilter(*opts.Filter)
		}
		if len(opts.Projection) > 0 {
			proj := expression.ProjectionBuilder{}
			for _, name := range opts.Projection {
				proj = expression.AddNames(proj, expression.Name(name))
			}
			builder = builder.WithProjection(proj)
		}

		expr, err := builder.Build()
		if err != nil {
			return nil, fmt.Errorf("building scan expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ProjectionExpression = expr.Projection()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var events []models.HealthEvent
	pages := 0

	for {
		out, err := c.api.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", c.table, err)
		}
		pages++

		var page []models.HealthEvent
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling scan page: %w", err)
		}
		events = append(events, page...)

		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	c.logger.Debug("table scan complete", "table", c.table, "events", len(events), "pages", pages)
	return events, nil
}
