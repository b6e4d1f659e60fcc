package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyArtifact(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ArtifactDbg, ClassifyArtifact("contracts/A.sol/A.dbg.json"))
	assert.Equal(t, ArtifactContract, ClassifyArtifact("contracts/A.sol/A.json"))
	assert.Equal(t, ArtifactUnknown, ClassifyArtifact("build-info.txt"))
	assert.Equal(t, ArtifactUnknown, ClassifyArtifact(""))
}

func TestJobStatus_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Pending", StatusPending.String())
	assert.Equal(t, "InProgress", StatusInProgress.String())
	assert.Equal(t, "Done", StatusDone.String())
	assert.Equal(t, "Unknown", JobStatus(9).String())
}

func TestJobStatus_Valid(t *testing.T) {
	t.Parallel()
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusDone.Valid())
	assert.False(t, JobStatus(-1).Valid())
	assert.False(t, JobStatus(3).Valid())
}

func TestCompileSuccess_EmptySentinel(t *testing.T) {
	t.Parallel()
	res := CompileSuccess(nil)
	require.NotNil(t, res.Success)
	require.Len(t, res.Success.Compile, 1)
	assert.Equal(t, ArtifactInfo{}, res.Success.Compile[0])
	assert.True(t, res.IsSuccess())
}

func TestVerifySuccess(t *testing.T) {
	t.Parallel()
	res := VerifySuccess("Contract verified")
	require.NotNil(t, res.Success)
	require.NotNil(t, res.Success.Verify)
	assert.Equal(t, "Contract verified", *res.Success.Verify)
}

func TestFailure_FromJobError(t *testing.T) {
	t.Parallel()
	res := Failure(NewUnsupportedVersionError("9.9.9"))
	require.NotNil(t, res.Failure)
	assert.Equal(t, ErrorTypeUnsupportedCompilerVersion, res.Failure.Type)
	assert.Contains(t, res.Failure.Message, "9.9.9")
	assert.False(t, res.IsSuccess())
}

func TestFailure_FromPlainError(t *testing.T) {
	t.Parallel()
	res := Failure(errors.New("disk full"))
	require.NotNil(t, res.Failure)
	assert.Equal(t, ErrorTypeInternal, res.Failure.Type)
	assert.Equal(t, "disk full", res.Failure.Message)
}

func TestErrorTypeOf_Wrapped(t *testing.T) {
	t.Parallel()
	wrapped := errors.Join(errors.New("outer"), NewNothingToCompileError())
	assert.Equal(t, ErrorTypeNothingToCompile, ErrorTypeOf(wrapped))
	assert.Equal(t, ErrorTypeInternal, ErrorTypeOf(errors.New("plain")))
}

func TestValidErrorType(t *testing.T) {
	t.Parallel()
	for _, et := range []ErrorType{
		ErrorTypeUnsupportedCompilerVersion, ErrorTypeCompilation, ErrorTypeNothingToCompile,
		ErrorTypeUnknownNetwork, ErrorTypeVerification, ErrorTypeInternal,
	} {
		assert.True(t, ValidErrorType(et), string(et))
	}
	assert.False(t, ValidErrorType(ErrorType("Timeout")))
}

func TestBlobPrefixes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc/", InputPrefix("abc"))
	assert.Equal(t, "artifacts/abc/", ArtifactPrefix("abc"))
}
