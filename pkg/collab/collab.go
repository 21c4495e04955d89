// Package collab provides thin exec-backed implementations of the external
// collaborator interfaces: containerized workflow replay, remote command
// execution, artifact signing, and SBOM generation. Each wraps an existing
// tool; none of the orchestration logic lives here.
package collab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
)

// ErrToolMissing indicates a required external tool is not installed.
// Surfaced as a dependency error, fatal to the run.
var ErrToolMissing = errors.New("required external tool not found")

// ActRunner replays workflow jobs locally through the act CLI
type ActRunner struct {
	Binary string
}

// NewActRunner creates a container-replay runner backed by act
func NewActRunner() *ActRunner {
	return &ActRunner{Binary: "act"}
}

// Run replays one workflow job in a container and reports its exit status
// together with any declared artifact paths act staged locally
func (r *ActRunner) Run(ctx context.Context, workflowFile, jobName string, output io.Writer) (*interfaces.ContainerResult, error) {
	if _, err := exec.LookPath(r.Binary); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, r.Binary)
	}

	artifactDir := filepath.Join(filepath.Dir(workflowFile), "..", "..", ".selfreleaser", "artifacts", jobName)
	cmd := exec.CommandContext(ctx, r.Binary,
		"--workflows", workflowFile,
		"--job", jobName,
		"--artifact-server-path", artifactDir,
	)
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()
	result := &interfaces.ContainerResult{ExitCode: exitCode(err)}
	if err != nil && result.ExitCode == -1 {
		return nil, err
	}

	matches, _ := filepath.Glob(filepath.Join(artifactDir, "*", "*"))
	result.ArtifactPaths = matches
	return result, nil
}

// SSHHost executes commands on native build hosts over ssh/scp
type SSHHost struct {
	SSHBinary string
	SCPBinary string
}

// NewSSHHost creates a remote executor backed by the system ssh client
func NewSSHHost() *SSHHost {
	return &SSHHost{SSHBinary: "ssh", SCPBinary: "scp"}
}

// Execute runs a command on the host and returns its exit status
func (h *SSHHost) Execute(ctx context.Context, host, command string, output io.Writer) (int, error) {
	if _, err := exec.LookPath(h.SSHBinary); err != nil {
		return -1, fmt.Errorf("%w: %s", ErrToolMissing, h.SSHBinary)
	}

	cmd := exec.CommandContext(ctx, h.SSHBinary, "-o", "BatchMode=yes", host, command)
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()
	code := exitCode(err)
	if err != nil && code == -1 {
		return -1, err
	}
	return code, nil
}

// FetchFile copies a remote file into localDir and returns the local path
func (h *SSHHost) FetchFile(ctx context.Context, host, remotePath, localDir string) (string, error) {
	if _, err := exec.LookPath(h.SCPBinary); err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolMissing, h.SCPBinary)
	}

	local := filepath.Join(localDir, filepath.Base(remotePath))
	cmd := exec.CommandContext(ctx, h.SCPBinary, "-B", host+":"+remotePath, local)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("scp %s:%s: %w (%s)", host, remotePath, err, strings.TrimSpace(stderr.String()))
	}
	return local, nil
}

// CosignSigner signs artifacts with the cosign CLI
type CosignSigner struct {
	Binary string
	Key    string
}

// NewCosignSigner creates a signer backed by cosign
func NewCosignSigner(key string) *CosignSigner {
	return &CosignSigner{Binary: "cosign", Key: key}
}

// Sign produces a detached signature next to the artifact
func (s *CosignSigner) Sign(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath(s.Binary); err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolMissing, s.Binary)
	}

	sigPath := path + ".sig"
	args := []string{"sign-blob", "--yes", "--output-signature", sigPath}
	if s.Key != "" {
		args = append(args, "--key", s.Key)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, s.Binary, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("cosign sign-blob %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}
	return sigPath, nil
}

// SyftGenerator produces SBOMs with the syft CLI
type SyftGenerator struct {
	Binary string
}

// NewSyftGenerator creates an SBOM generator backed by syft
func NewSyftGenerator() *SyftGenerator {
	return &SyftGenerator{Binary: "syft"}
}

// Generate writes an SPDX SBOM next to the artifact
func (g *SyftGenerator) Generate(ctx context.Context, path string) (string, error) {
	if _, err := exec.LookPath(g.Binary); err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolMissing, g.Binary)
	}

	sbomPath := path + ".sbom.json"
	cmd := exec.CommandContext(ctx, g.Binary, "scan", "file:"+path, "-o", "spdx-json="+sbomPath)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("syft scan %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}
	return sbomPath, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
