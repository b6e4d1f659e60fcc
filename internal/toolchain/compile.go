package toolchain

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/zksmith/contract-worker/internal/domain"
	"github.com/zksmith/contract-worker/internal/workspace"
)

var tracer = otel.Tracer("toolchain")

// testFileSuffix marks contract files excluded from compilation.
const testFileSuffix = "_test.sol"

// Toolchain prepares workspaces and runs the compiler and verifier.
type Toolchain struct {
	ws     *workspace.Manager
	runner Runner
	logger *slog.Logger
}

// New builds a Toolchain over the given workspace root and runner.
func New(ws *workspace.Manager, runner Runner, logger *slog.Logger) *Toolchain {
	return &Toolchain{ws: ws, runner: runner, logger: logger.With(slog.String("component", "toolchain"))}
}

// CompileJob is one compile request with its materialized sources.
type CompileJob struct {
	ID        string
	Config    domain.CompileConfig
	Contracts []domain.SourceFile
}

// ArtifactFile is one compiler output, relative to the artifacts directory.
type ArtifactFile struct {
	Kind domain.ArtifactKind
	Path string
}

// CompileOutput locates the artifacts a successful run left on disk. Bytes
// stay on disk; the processor streams them to the object store.
type CompileOutput struct {
	WorkspaceDir string
	ArtifactsDir string
	Artifacts    []ArtifactFile
}

// Compile validates the job, materializes its workspace, runs the compiler
// under a subprocess permit, and enumerates the artifacts it produced.
// Workspace directories are registered on guard; the caller owns cleanup.
func (t *Toolchain) Compile(ctx context.Context, guard *workspace.Guard, job CompileJob) (*CompileOutput, error) {
	ctx, span := tracer.Start(ctx, "toolchain.Compile")
	defer span.End()

	if !SupportedVersion(job.Config.Version) {
		return nil, domain.NewUnsupportedVersionError(job.Config.Version)
	}
	contracts := filterTestFiles(job.Contracts)
	if len(contracts) == 0 {
		return nil, domain.NewNothingToCompileError()
	}

	ws, err := t.prepare(guard, job.ID, job.Config.Version, domain.DefaultSolcVersion, job.Config.TargetPath, contracts)
	if err != nil {
		return nil, err
	}

	res, err := runLimited(ctx, t.runner, "compile", ws.Dir, "npx", "hardhat", "compile")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		t.logger.Info("compiler exited non-zero",
			slog.String("job_id", job.ID), slog.Int("exit_code", res.ExitCode))
		return nil, domain.NewCompilationError(res.Stderr)
	}

	artifacts, err := enumerateArtifacts(ws.ArtifactsDir)
	if err != nil {
		return nil, err
	}
	return &CompileOutput{
		WorkspaceDir: ws.Dir,
		ArtifactsDir: ws.ArtifactsDir,
		Artifacts:    artifacts,
	}, nil
}

// prepare creates the workspace, renders the toolchain config, and writes
// the contract files at their relative paths.
func (t *Toolchain) prepare(guard *workspace.Guard, id, zksolcVersion, solcVersion string, sourcePath *string, contracts []domain.SourceFile) (*workspace.Workspace, error) {
	ws, err := t.ws.Create(id)
	if err != nil {
		return nil, err
	}
	guard.Add(ws.Dir)

	cfg, err := renderHardhatConfig(zksolcVersion, solcVersion, sourcePath)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteFile(ConfigFileName, []byte(cfg)); err != nil {
		return nil, err
	}
	for _, c := range contracts {
		if err := ws.WriteFile(c.Path, c.Data); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

func filterTestFiles(contracts []domain.SourceFile) []domain.SourceFile {
	out := make([]domain.SourceFile, 0, len(contracts))
	for _, c := range contracts {
		if strings.HasSuffix(c.Path, testFileSuffix) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// enumerateArtifacts walks the artifacts subtree and classifies every file
// by suffix.
func enumerateArtifacts(dir string) ([]ArtifactFile, error) {
	var artifacts []ArtifactFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		artifacts = append(artifacts, ArtifactFile{
			Kind: domain.ClassifyArtifact(rel),
			Path: rel,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("op=toolchain.enumerateArtifacts: %w", err)
	}
	return artifacts, nil
}
