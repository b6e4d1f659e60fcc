// Package usecase orchestrates one job per queue message: validate, fetch
// sources, claim the record, run the toolchain, publish the terminal result,
// and clean up.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/zksmith/contract-worker/internal/adapter/observability"
	"github.com/zksmith/contract-worker/internal/domain"
	"github.com/zksmith/contract-worker/internal/toolchain"
	"github.com/zksmith/contract-worker/internal/workspace"
)

var tracer = otel.Tracer("usecase.processor")

// Toolchain runs the compiler and verifier against prepared workspaces.
type Toolchain interface {
	Compile(ctx context.Context, guard *workspace.Guard, job toolchain.CompileJob) (*toolchain.CompileOutput, error)
	Verify(ctx context.Context, guard *workspace.Guard, job toolchain.VerifyJob) (string, error)
}

// Registrar receives terminal jobs for eventual expiration.
type Registrar interface {
	AddRecord(id string, result domain.TaskResult)
}

// Processor handles one message end to end. One instance is shared by all
// workers; per-job state lives on the stack.
type Processor struct {
	queue      domain.Queue
	records    domain.RecordStore
	blobs      domain.ObjectStore
	tc         Toolchain
	purgatory  Registrar
	presignTTL time.Duration
	logger     *slog.Logger
}

// New builds a Processor over the three clients, the toolchain, and the
// expiration registrar.
func New(queue domain.Queue, records domain.RecordStore, blobs domain.ObjectStore, tc Toolchain, purg Registrar, presignTTL time.Duration, logger *slog.Logger) *Processor {
	if presignTTL <= 0 {
		presignTTL = 5 * time.Hour
	}
	return &Processor{
		queue:      queue,
		records:    records,
		blobs:      blobs,
		tc:         tc,
		purgatory:  purg,
		presignTTL: presignTTL,
		logger:     logger.With(slog.String("component", "processor")),
	}
}

// Process dispatches on the message type. A nil return means the job was
// handled (terminally or abandoned) and its message acked or scheduled for
// ack; an error return leaves the message unacked for redelivery.
func (p *Processor) Process(ctx context.Context, msg domain.QueueMessage, receiptHandle string) error {
	ctx, span := tracer.Start(ctx, "processor.Process")
	defer span.End()

	observability.StartProcessingJob(string(msg.Type))
	switch msg.Type {
	case domain.JobTypeCompile:
		return p.processCompile(ctx, msg.ID, *msg.Compile, receiptHandle)
	case domain.JobTypeVerify:
		return p.processVerify(ctx, msg.ID, *msg.Verify, receiptHandle)
	}
	// Unreachable past deserialization, but do not wedge the message.
	observability.AbandonJob(string(msg.Type))
	p.detachAck(ctx, msg.ID, receiptHandle)
	return fmt.Errorf("op=processor.Process: unknown job type %q", string(msg.Type))
}

func (p *Processor) processCompile(ctx context.Context, id string, cfg domain.CompileConfig, receiptHandle string) error {
	log := observability.LoggerFromContext(ctx).With(slog.String("job_id", id))

	// Pre-claim validation: refuse before touching the record so losers of
	// duplicate deliveries still see a terminal record.
	if !toolchain.SupportedVersion(cfg.Version) {
		log.Info("rejecting unsupported compiler version", slog.String("version", cfg.Version))
		return p.publishFailure(ctx, id, domain.JobTypeCompile,
			domain.NewUnsupportedVersionError(cfg.Version), receiptHandle)
	}

	contracts, err := p.blobs.ExtractFiles(ctx, domain.InputPrefix(id))
	if err != nil {
		// Missing or corrupt inputs are the front door's fault; ack so the
		// message does not loop forever.
		log.Error("failed to fetch job sources", slog.Any("error", err))
		observability.AbandonJob(string(domain.JobTypeCompile))
		p.detachAck(ctx, id, receiptHandle)
		return err
	}

	won, err := p.claim(ctx, id, domain.JobTypeCompile, receiptHandle, log)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	guard := workspace.NewGuard()
	defer func() { _ = guard.Cleanup() }()

	out, err := p.tc.Compile(ctx, guard, toolchain.CompileJob{ID: id, Config: cfg, Contracts: contracts})
	if err != nil {
		return p.publishFailure(ctx, id, domain.JobTypeCompile, err, receiptHandle)
	}

	infos, err := p.uploadArtifacts(ctx, id, out)
	if err != nil {
		log.Error("artifact publication failed", slog.Any("error", err))
		return p.publishFailure(ctx, id, domain.JobTypeCompile, domain.NewInternalError(err), receiptHandle)
	}

	return p.publishSuccess(ctx, id, domain.JobTypeCompile, domain.CompileSuccess(infos), receiptHandle, log)
}

func (p *Processor) processVerify(ctx context.Context, id string, cfg domain.VerifyConfig, receiptHandle string) error {
	log := observability.LoggerFromContext(ctx).With(slog.String("job_id", id))

	if !toolchain.SupportedVersion(cfg.ZksolcVersion) {
		log.Info("rejecting unsupported compiler version", slog.String("version", cfg.ZksolcVersion))
		return p.publishFailure(ctx, id, domain.JobTypeVerify,
			domain.NewUnsupportedVersionError(cfg.ZksolcVersion), receiptHandle)
	}
	if _, ok := toolchain.NetworkName(cfg.Network); !ok {
		log.Info("rejecting unknown network", slog.String("network", cfg.Network))
		return p.publishFailure(ctx, id, domain.JobTypeVerify,
			domain.NewUnknownNetworkError(cfg.Network), receiptHandle)
	}

	contracts, err := p.blobs.ExtractFiles(ctx, domain.InputPrefix(id))
	if err != nil {
		log.Error("failed to fetch job sources", slog.Any("error", err))
		observability.AbandonJob(string(domain.JobTypeVerify))
		p.detachAck(ctx, id, receiptHandle)
		return err
	}

	won, err := p.claim(ctx, id, domain.JobTypeVerify, receiptHandle, log)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	guard := workspace.NewGuard()
	defer func() { _ = guard.Cleanup() }()

	output, err := p.tc.Verify(ctx, guard, toolchain.VerifyJob{ID: id, Config: cfg, Contracts: contracts})
	if err != nil {
		return p.publishFailure(ctx, id, domain.JobTypeVerify, err, receiptHandle)
	}

	return p.publishSuccess(ctx, id, domain.JobTypeVerify, domain.VerifySuccess(output), receiptHandle, log)
}

// claim performs the Pending → InProgress transition. Exactly one worker
// wins; losers ack and abandon, reported as won=false so callers stop before
// the run step. Infra errors return without ack so the queue redelivers.
func (p *Processor) claim(ctx context.Context, id string, jobType domain.JobType, receiptHandle string, log *slog.Logger) (won bool, err error) {
	err = p.records.UpdateStatusConditional(ctx, id, domain.StatusPending, domain.StatusInProgress)
	if err == nil {
		return true, nil
	}
	observability.AbandonJob(string(jobType))
	if errors.Is(err, domain.ErrConditionalCheckFailed) {
		// Another worker won, or the record was already reaped.
		log.Info("lost claim race, abandoning")
		observability.ClaimRacesLostTotal.Inc()
		p.detachAck(ctx, id, receiptHandle)
		return false, nil
	}
	log.Error("claim failed, leaving message for redelivery", slog.Any("error", err))
	return false, err
}

// uploadArtifacts streams every artifact to the object store and mints its
// presigned download URL.
func (p *Processor) uploadArtifacts(ctx context.Context, id string, out *toolchain.CompileOutput) ([]domain.ArtifactInfo, error) {
	infos := make([]domain.ArtifactInfo, 0, len(out.Artifacts))
	for _, a := range out.Artifacts {
		key := domain.ArtifactPrefix(id) + a.Path
		if err := p.putArtifact(ctx, key, filepath.Join(out.ArtifactsDir, filepath.FromSlash(a.Path))); err != nil {
			return nil, err
		}
		url, err := p.blobs.GetPresigned(ctx, key, p.presignTTL)
		if err != nil {
			return nil, err
		}
		observability.ArtifactsUploadedTotal.WithLabelValues(string(a.Kind)).Inc()
		infos = append(infos, domain.ArtifactInfo{Kind: a.Kind, Path: a.Path, URL: url})
	}
	return infos, nil
}

func (p *Processor) putArtifact(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("op=processor.putArtifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return p.blobs.Put(ctx, key, f)
}

// publishSuccess commits the terminal Success record, registers it for
// expiration, and detaches cleanup.
func (p *Processor) publishSuccess(ctx context.Context, id string, jobType domain.JobType, res domain.TaskResult, receiptHandle string, log *slog.Logger) error {
	if err := p.records.PutResult(ctx, id, res); err != nil {
		log.Error("terminal commit failed", slog.Any("error", err))
		observability.AbandonJob(string(jobType))
		return err
	}
	p.purgatory.AddRecord(id, res)
	observability.CompleteJob(string(jobType))
	log.Info("job done", slog.String("outcome", "success"))
	p.detachCleanup(ctx, id, receiptHandle)
	return nil
}

// publishFailure commits the terminal Failure record for err, registers it
// for expiration, and detaches cleanup. Unclassified errors record as
// InternalError.
func (p *Processor) publishFailure(ctx context.Context, id string, jobType domain.JobType, jobErr error, receiptHandle string) error {
	log := observability.LoggerFromContext(ctx).With(slog.String("job_id", id))
	res := domain.Failure(jobErr)
	if err := p.records.PutResult(ctx, id, res); err != nil {
		log.Error("terminal commit failed", slog.Any("error", err))
		observability.AbandonJob(string(jobType))
		return err
	}
	p.purgatory.AddRecord(id, res)
	observability.FailJob(string(jobType), string(res.Failure.Type))
	log.Info("job done", slog.String("outcome", "failure"),
		slog.String("error_type", string(res.Failure.Type)))
	p.detachCleanup(ctx, id, receiptHandle)
	return nil
}

// detachCleanup deletes the input prefix and acks the message in the
// background. Failures only log: a missed ack causes a benign redelivery
// that the claim check filters, and stray inputs fall to the reaper.
func (p *Processor) detachCleanup(ctx context.Context, id, receiptHandle string) {
	log := observability.LoggerFromContext(ctx).With(slog.String("job_id", id))
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := p.blobs.DeletePrefix(bg, domain.InputPrefix(id)); err != nil {
			log.Warn("input cleanup failed", slog.Any("error", err))
		}
		if err := p.queue.Delete(bg, receiptHandle); err != nil {
			log.Warn("ack failed, expecting redelivery", slog.Any("error", err))
		}
	}()
}

// detachAck acks the message in the background without touching inputs.
func (p *Processor) detachAck(ctx context.Context, id, receiptHandle string) {
	log := observability.LoggerFromContext(ctx).With(slog.String("job_id", id))
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := p.queue.Delete(bg, receiptHandle); err != nil {
			log.Warn("ack failed, expecting redelivery", slog.Any("error", err))
		}
	}()
}
