// Package dynamo implements the job record store on DynamoDB. Records carry
// the lifecycle status as a small integer and the terminal result as a
// polymorphic Data attribute; workers coordinate through conditional writes.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"

	"github.com/zksmith/contract-worker/internal/config"
	"github.com/zksmith/contract-worker/internal/domain"
	"github.com/zksmith/contract-worker/internal/retry"
)

var tracer = otel.Tracer("adapter.repo.dynamo")

// scanPageSize caps one ScanPriorTo page.
const scanPageSize = 100

type api interface {
	GetItem(ctx context.Context, params *awsdynamodb.GetItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *awsdynamodb.PutItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *awsdynamodb.DeleteItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *awsdynamodb.UpdateItemInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *awsdynamodb.ScanInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *awsdynamodb.DescribeTableInput, optFns ...func(*awsdynamodb.Options)) (*awsdynamodb.DescribeTableOutput, error)
}

// Store is the record store client. Every call goes through the retry engine;
// ConditionalCheckFailed and malformed items surface as permanent errors.
type Store struct {
	api    api
	table  string
	engine *retry.Engine
	logger *slog.Logger
}

// New builds the record store and its retry engine.
func New(awsCfg aws.Config, cfg config.Config, logger *slog.Logger) *Store {
	sdk := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	})
	return &Store{
		api:   sdk,
		table: cfg.TableName,
		engine: retry.NewEngine(retry.Config{
			Name:           "records",
			ResendInterval: cfg.ResendInterval,
			MailboxSize:    cfg.MailboxSize,
			Logger:         logger,
		}),
		logger: logger.With(slog.String("adapter", "records")),
	}
}

// Engine exposes the retry engine state for readiness probes.
func (s *Store) Engine() *retry.Engine { return s.engine }

// Close stops the retry engine.
func (s *Store) Close() { s.engine.Close() }

// Ping verifies the table is reachable. Bypasses the retry engine so probes
// report real connectivity instead of parking.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &awsdynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	return err
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: strAV(id)}
}

// Get fetches and decodes one record. A missing id returns (nil, nil); a
// malformed item returns ErrMalformedRecord.
func (s *Store) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	ctx, span := tracer.Start(ctx, "records.Get")
	defer span.End()

	var out *awsdynamodb.GetItemOutput
	err := s.engine.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.api.GetItem(ctx, &awsdynamodb.GetItemInput{
			TableName: aws.String(s.table),
			Key:       key(id),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("op=records.Get: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	rec, err := decodeRecord(out.Item)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put writes a full record unconditionally. The worker itself never creates
// records (the front door does); this exists for the purge CLI and tests.
func (s *Store) Put(ctx context.Context, rec domain.JobRecord) error {
	ctx, span := tracer.Start(ctx, "records.Put")
	defer span.End()

	item, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	err = s.engine.Do(ctx, func(ctx context.Context) error {
		_, err := s.api.PutItem(ctx, &awsdynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("op=records.Put: %w", err)
	}
	return nil
}

// Delete removes a record unconditionally.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "records.Delete")
	defer span.End()

	err := s.engine.Do(ctx, func(ctx context.Context) error {
		_, err := s.api.DeleteItem(ctx, &awsdynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key:       key(id),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("op=records.Delete: %w", err)
	}
	return nil
}

// UpdateStatusConditional compares-and-sets the status attribute. A current
// status other than from fails with ErrConditionalCheckFailed; this is how
// claim races between workers resolve.
func (s *Store) UpdateStatusConditional(ctx context.Context, id string, from, to domain.JobStatus) error {
	ctx, span := tracer.Start(ctx, "records.UpdateStatusConditional")
	defer span.End()

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name(attrStatus).Equal(expression.Value(int(from)))).
		WithUpdate(expression.Set(expression.Name(attrStatus), expression.Value(int(to)))).
		Build()
	if err != nil {
		return fmt.Errorf("op=records.UpdateStatusConditional: build expression: %w", err)
	}
	err = s.engine.Do(ctx, func(ctx context.Context) error {
		_, err := s.api.UpdateItem(ctx, &awsdynamodb.UpdateItemInput{
			TableName:                 aws.String(s.table),
			Key:                       key(id),
			ConditionExpression:       expr.Condition(),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return err
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return fmt.Errorf("op=records.UpdateStatusConditional: %w", domain.ErrConditionalCheckFailed)
		}
		return fmt.Errorf("op=records.UpdateStatusConditional: %w", err)
	}
	return nil
}

// PutResult commits the terminal state: status Done plus the result payload.
// Unconditional; only the claim winner reaches this point.
func (s *Store) PutResult(ctx context.Context, id string, res domain.TaskResult) error {
	ctx, span := tracer.Start(ctx, "records.PutResult")
	defer span.End()

	data, err := encodeResult(res)
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().
		WithUpdate(expression.
			Set(expression.Name(attrStatus), expression.Value(int(domain.StatusDone))).
			Set(expression.Name(attrData), expression.Value(data))).
		Build()
	if err != nil {
		return fmt.Errorf("op=records.PutResult: build expression: %w", err)
	}
	err = s.engine.Do(ctx, func(ctx context.Context) error {
		_, err := s.api.UpdateItem(ctx, &awsdynamodb.UpdateItemInput{
			TableName:                 aws.String(s.table),
			Key:                       key(id),
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("op=records.PutResult: %w", err)
	}
	return nil
}

// ScanPriorTo pages through records with CreatedAt on or before cutoff. The
// cursor is the last-seen id; pass the returned NextCursor to resume, empty
// when the scan is exhausted.
func (s *Store) ScanPriorTo(ctx context.Context, cutoff time.Time, cursor string) (domain.ScanPage, error) {
	ctx, span := tracer.Start(ctx, "records.ScanPriorTo")
	defer span.End()

	expr, err := expression.NewBuilder().
		WithFilter(expression.Name(attrCreatedAt).LessThanEqual(
			expression.Value(cutoff.UTC().Format(time.RFC3339)))).
		Build()
	if err != nil {
		return domain.ScanPage{}, fmt.Errorf("op=records.ScanPriorTo: build expression: %w", err)
	}
	in := &awsdynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(scanPageSize),
	}
	if cursor != "" {
		in.ExclusiveStartKey = key(cursor)
	}
	var out *awsdynamodb.ScanOutput
	err = s.engine.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.api.Scan(ctx, in)
		return err
	})
	if err != nil {
		return domain.ScanPage{}, fmt.Errorf("op=records.ScanPriorTo: %w", err)
	}
	page := domain.ScanPage{Records: make([]domain.JobRecord, 0, len(out.Items))}
	for _, item := range out.Items {
		rec, err := decodeRecord(item)
		if err != nil {
			// One rotten item must not wedge the sweep forever.
			s.logger.Warn("skipping malformed record in scan", slog.Any("error", err))
			continue
		}
		page.Records = append(page.Records, rec)
	}
	if last, ok := out.LastEvaluatedKey[attrID]; ok {
		if sv, ok := last.(*types.AttributeValueMemberS); ok {
			page.NextCursor = sv.Value
		}
	}
	return page, nil
}

var _ domain.RecordStore = (*Store)(nil)
