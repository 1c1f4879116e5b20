package proofcoordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/otcsettle/controlplane/internal/apperr"
)

// Prover invokes the external proving binary named in §6: a command-line
// tool that writes proof.json and public.json into a per-job work directory.
type Prover struct {
	rootDir string
	command string
	timeout time.Duration
}

func NewProver(rootDir, command string, timeout time.Duration) *Prover {
	return &Prover{rootDir: rootDir, command: command, timeout: timeout}
}

type proofFile struct {
	PiA []string   `json:"pi_a"`
	PiB [][]string `json:"pi_b"`
	PiC []string   `json:"pi_c"`
}

// Run shells out to the configured prover binary for job, passing its
// receipt_context (plus any settlement fixture projections) as JSON input on
// a work directory scoped to the job id. A nonzero exit is retryable; a
// timeout is reported as PROVE_TIMEOUT.
func (p *Prover) Run(ctx context.Context, job *ProofJob, extraFixture map[string]any) (*ProverArtifacts, error) {
	workDir := filepath.Join(p.rootDir, job.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, apperr.Internal("PROVER_WORKDIR_ERROR", err.Error())
	}

	input := map[string]any{}
	for k, v := range job.ReceiptContext {
		input[k] = v
	}
	for k, v := range extraFixture {
		input[k] = v
	}
	if fp, ok := job.ReceiptContext["fixturePath"].(string); ok && fp != "" {
		input["fixturePath"] = fp
	}
	inputRaw, err := json.Marshal(input)
	if err != nil {
		return nil, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	inputPath := filepath.Join(workDir, "input.json")
	if err := os.WriteFile(inputPath, inputRaw, 0o600); err != nil {
		return nil, apperr.Internal("PROVER_WORKDIR_ERROR", err.Error())
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, p.command, "--input", inputPath, "--outdir", workDir)
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, apperr.BadRequest(apperr.CodeProveTimeout, "prover exceeded configured timeout")
	}
	if err != nil {
		return nil, fmt.Errorf("prover exited with error: %w (output: %s)", err, string(output))
	}

	proofRaw, err := os.ReadFile(filepath.Join(workDir, "proof.json"))
	if err != nil {
		return nil, fmt.Errorf("reading proof.json: %w", err)
	}
	var pf proofFile
	if err := json.Unmarshal(proofRaw, &pf); err != nil {
		return nil, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}

	publicRaw, err := os.ReadFile(filepath.Join(workDir, "public.json"))
	if err != nil {
		return nil, fmt.Errorf("reading public.json: %w", err)
	}
	var rawSignals []any
	if err := json.Unmarshal(publicRaw, &rawSignals); err != nil {
		return nil, apperr.Internal(apperr.CodeSerializationError, err.Error())
	}
	publicSignals := make([]string, len(rawSignals))
	for i, v := range rawSignals {
		s, ok := v.(string)
		if !ok {
			return nil, apperr.NewNonRetryable(apperr.CodeBindingInvalidPublicSignals, fmt.Sprintf("public signal at index %d is not a string", i))
		}
		publicSignals[i] = s
	}

	return &ProverArtifacts{
		PiA:             pf.PiA,
		PiB:             pf.PiB,
		PiC:             pf.PiC,
		PublicSignals:   publicSignals,
		ProveDurationMS: duration.Milliseconds(),
	}, nil
}
