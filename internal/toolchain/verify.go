package toolchain

import (
	"context"
	"log/slog"

	"github.com/zksmith/contract-worker/internal/domain"
	"github.com/zksmith/contract-worker/internal/workspace"
)

// VerifyJob is one verify request with its materialized sources.
type VerifyJob struct {
	ID        string
	Config    domain.VerifyConfig
	Contracts []domain.SourceFile
}

// Verify validates the job, materializes its workspace, and runs the
// verifier under a subprocess permit. Returns the verifier's stdout.
// Workspace directories are registered on guard; the caller owns cleanup.
func (t *Toolchain) Verify(ctx context.Context, guard *workspace.Guard, job VerifyJob) (string, error) {
	ctx, span := tracer.Start(ctx, "toolchain.Verify")
	defer span.End()

	if !SupportedVersion(job.Config.ZksolcVersion) {
		return "", domain.NewUnsupportedVersionError(job.Config.ZksolcVersion)
	}
	network, ok := NetworkName(job.Config.Network)
	if !ok {
		return "", domain.NewUnknownNetworkError(job.Config.Network)
	}
	contracts := filterTestFiles(job.Contracts)
	if len(contracts) == 0 {
		return "", domain.NewNothingToCompileError()
	}

	ws, err := t.prepare(guard, job.ID, job.Config.ZksolcVersion, job.Config.SolcVersion, nil, contracts)
	if err != nil {
		return "", err
	}

	args := []string{"hardhat", "verify", "--network", network}
	if job.Config.TargetContract != nil {
		args = append(args, "--contract", *job.Config.TargetContract)
	}
	args = append(args, job.Config.ContractAddress)
	args = append(args, job.Config.Inputs...)

	res, err := runLimited(ctx, t.runner, "verify", ws.Dir, "npx", args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		t.logger.Info("verifier exited non-zero",
			slog.String("job_id", job.ID), slog.Int("exit_code", res.ExitCode))
		return "", domain.NewVerificationError(res.Stdout)
	}
	return res.Stdout, nil
}
