//go:build integration

// Package integration spins up LocalStack and drives the three AWS adapters
// against real wire semantics: queue receive/ack, conditional record claims,
// and blob round-trips including presigned downloads.
//
// Run with: go test -tags integration ./test/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zksmith/contract-worker/internal/adapter/awsconf"
	blobs3 "github.com/zksmith/contract-worker/internal/adapter/blob/s3"
	queuesqs "github.com/zksmith/contract-worker/internal/adapter/queue/sqs"
	"github.com/zksmith/contract-worker/internal/adapter/repo/dynamo"
	"github.com/zksmith/contract-worker/internal/config"
	"github.com/zksmith/contract-worker/internal/domain"
)

const localstackPort = nat.Port("4566/tcp")

type stack struct {
	cfg     config.Config
	queue   *queuesqs.Client
	records *dynamo.Store
	blobs   *blobs3.Client
	rawSQS  *awssqs.Client
}

// startStack boots LocalStack, provisions the queue, table, and bucket, and
// builds the three adapters against the mapped endpoint.
func startStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "localstack/localstack:3.4",
		ExposedPorts: []string{string(localstackPort)},
		Env:          map[string]string{"SERVICES": "sqs,dynamodb,s3"},
		WaitingFor: wait.ForHTTP("/_localstack/health").
			WithPort(localstackPort).
			WithStartupTimeout(120 * time.Second),
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.AutoRemove = true
		},
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, localstackPort)
	require.NoError(t, err)
	endpoint := "http://" + host + ":" + mapped.Port()

	cfg := config.Config{
		TableName:      "jobs",
		BucketName:     "contract-sources",
		AWSRegion:      "us-east-1",
		AWSEndpointURL: endpoint,
		ResendInterval: 200 * time.Millisecond,
		MailboxSize:    32,
	}
	awsCfg, err := awsconf.Load(ctx, cfg)
	require.NoError(t, err)

	rawSQS := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	created, err := rawSQS.CreateQueue(ctx, &awssqs.CreateQueueInput{
		QueueName: aws.String("contract-jobs"),
	})
	require.NoError(t, err)
	cfg.QueueURL = aws.ToString(created.QueueUrl)

	rawDDB := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	_, err = rawDDB.CreateTable(ctx, &awsdynamodb.CreateTableInput{
		TableName: aws.String(cfg.TableName),
		AttributeDefinitions: []dynamotypes.AttributeDefinition{
			{AttributeName: aws.String("ID"), AttributeType: dynamotypes.ScalarAttributeTypeS},
		},
		KeySchema: []dynamotypes.KeySchemaElement{
			{AttributeName: aws.String("ID"), KeyType: dynamotypes.KeyTypeHash},
		},
		BillingMode: dynamotypes.BillingModePayPerRequest,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		out, derr := rawDDB.DescribeTable(ctx, &awsdynamodb.DescribeTableInput{
			TableName: aws.String(cfg.TableName),
		})
		return derr == nil && out.Table.TableStatus == dynamotypes.TableStatusActive
	}, 60*time.Second, time.Second)

	rawS3 := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	_, err = rawS3.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(cfg.BucketName),
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := &stack{
		cfg:     cfg,
		queue:   queuesqs.New(awsCfg, cfg, logger),
		records: dynamo.New(awsCfg, cfg, logger),
		blobs:   blobs3.New(awsCfg, cfg, logger),
		rawSQS:  rawSQS,
	}
	t.Cleanup(func() {
		s.queue.Close()
		s.records.Close()
		s.blobs.Close()
	})
	return s
}

func TestLocalStack_Adapters(t *testing.T) {
	s := startStack(t)
	ctx := context.Background()

	t.Run("readiness", func(t *testing.T) {
		require.NoError(t, s.queue.Ping(ctx))
		require.NoError(t, s.records.Ping(ctx))
		require.NoError(t, s.blobs.Ping(ctx))
	})

	t.Run("queue round-trip", func(t *testing.T) {
		id := uuid.NewString()
		body, err := json.Marshal(domain.QueueMessage{
			Type:    domain.JobTypeCompile,
			ID:      id,
			Compile: &domain.CompileConfig{Version: "1.4.1"},
		})
		require.NoError(t, err)
		_, err = s.rawSQS.SendMessage(ctx, &awssqs.SendMessageInput{
			QueueUrl:    aws.String(s.cfg.QueueURL),
			MessageBody: aws.String(string(body)),
		})
		require.NoError(t, err)

		var msg *domain.Message
		require.Eventually(t, func() bool {
			msg, err = s.queue.Receive(ctx)
			return err == nil && msg != nil
		}, 30*time.Second, 100*time.Millisecond)

		var decoded domain.QueueMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Body), &decoded))
		assert.Equal(t, id, decoded.ID)
		assert.Equal(t, domain.JobTypeCompile, decoded.Type)
		require.NoError(t, s.queue.Delete(ctx, msg.ReceiptHandle))
	})

	t.Run("record lifecycle", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, s.records.Put(ctx, domain.JobRecord{
			ID:        id,
			Status:    domain.StatusPending,
			CreatedAt: time.Now().UTC(),
		}))

		// First claim wins, second loses.
		require.NoError(t, s.records.UpdateStatusConditional(ctx, id, domain.StatusPending, domain.StatusInProgress))
		err := s.records.UpdateStatusConditional(ctx, id, domain.StatusPending, domain.StatusInProgress)
		require.ErrorIs(t, err, domain.ErrConditionalCheckFailed)

		res := domain.VerifySuccess("Contract verified!")
		require.NoError(t, s.records.PutResult(ctx, id, res))
		rec, err := s.records.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, domain.StatusDone, rec.Status)
		require.NotNil(t, rec.Result)
		require.NotNil(t, rec.Result.Success)
		assert.Equal(t, "Contract verified!", *rec.Result.Success.Verify)

		page, err := s.records.ScanPriorTo(ctx, time.Now().UTC().Add(time.Minute), "")
		require.NoError(t, err)
		found := false
		for _, r := range page.Records {
			if r.ID == id {
				found = true
			}
		}
		assert.True(t, found)

		require.NoError(t, s.records.Delete(ctx, id))
		rec, err = s.records.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("blob round-trip", func(t *testing.T) {
		id := uuid.NewString()
		src := []byte("contract A {}")
		require.NoError(t, s.blobs.Put(ctx, domain.InputPrefix(id)+"contracts/A.sol", bytes.NewReader(src)))

		files, err := s.blobs.ExtractFiles(ctx, domain.InputPrefix(id))
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "contracts/A.sol", files[0].Path)
		assert.Equal(t, src, files[0].Data)

		artifact := []byte(`{"abi":[]}`)
		key := domain.ArtifactPrefix(id) + "contracts/A.sol/A.json"
		require.NoError(t, s.blobs.Put(ctx, key, bytes.NewReader(artifact)))
		url, err := s.blobs.GetPresigned(ctx, key, time.Hour)
		require.NoError(t, err)

		resp, err := http.Get(url)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, artifact, got)

		require.NoError(t, s.blobs.DeletePrefix(ctx, domain.InputPrefix(id)))
		require.NoError(t, s.blobs.DeletePrefix(ctx, domain.ArtifactPrefix(id)))
		remaining, err := s.blobs.ListPrefix(ctx, domain.InputPrefix(id))
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}
