// Package release consolidates build artifacts into a signed, checksummed
// release and synthesizes the self-installing script
package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/interfaces"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// Manifest is the consolidated view of a release
type Manifest struct {
	Repo        string           `json:"repo"`
	Version     string           `json:"version"`
	RunID       string           `json:"runId"`
	Artifacts   []types.Artifact `json:"artifacts"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// Failure records a per-artifact release problem. Failures never abort the
// remaining artifacts; they aggregate into the run outcome.
type Failure struct {
	Artifact string `json:"artifact"`
	Stage    string `json:"stage"` // checksum, collision, sign, sbom
	Error    string `json:"error"`
}

// Consolidator merges artifacts and drives the signing/SBOM collaborators
type Consolidator struct {
	signer interfaces.Signer
	sbom   interfaces.SBOMGenerator
	logger logger.Logger
	outDir string
}

// NewConsolidator creates a consolidator writing into outDir
func NewConsolidator(signer interfaces.Signer, sbom interfaces.SBOMGenerator, log logger.Logger, outDir string) *Consolidator {
	return &Consolidator{
		signer: signer,
		sbom:   sbom,
		logger: log,
		outDir: outDir,
	}
}

// Consolidate hashes every artifact, rejects published-name collisions,
// invokes the signing and SBOM collaborators per artifact, and writes the
// manifest plus a SHA256SUMS file. Per-artifact failures are collected,
// not thrown.
func (c *Consolidator) Consolidate(ctx context.Context, run *types.RunRecord, artifacts []*types.Artifact) (*Manifest, []Failure) {
	manifest := &Manifest{
		Repo:        run.Repo,
		Version:     run.Version,
		RunID:       run.RunID,
		GeneratedAt: time.Now(),
	}
	var failures []Failure

	seen := make(map[string]string) // published name -> source path
	for _, artifact := range artifacts {
		name := filepath.Base(artifact.Path)
		if prev, dup := seen[name]; dup {
			failures = append(failures, Failure{
				Artifact: artifact.Path,
				Stage:    "collision",
				Error:    fmt.Sprintf("published name %q already produced by %s", name, prev),
			})
			continue
		}
		seen[name] = artifact.Path

		sum, size, err := hashFile(artifact.Path)
		if err != nil {
			failures = append(failures, Failure{Artifact: artifact.Path, Stage: "checksum", Error: err.Error()})
			continue
		}
		artifact.SHA256 = sum
		artifact.Size = size

		if c.signer != nil {
			sigPath, err := c.signer.Sign(ctx, artifact.Path)
			if err != nil {
				failures = append(failures, Failure{Artifact: artifact.Path, Stage: "sign", Error: err.Error()})
			} else {
				artifact.Signed = true
				artifact.SignaturePath = sigPath
			}
		}
		if c.sbom != nil {
			sbomPath, err := c.sbom.Generate(ctx, artifact.Path)
			if err != nil {
				failures = append(failures, Failure{Artifact: artifact.Path, Stage: "sbom", Error: err.Error()})
			} else {
				artifact.SBOMPath = sbomPath
			}
		}

		manifest.Artifacts = append(manifest.Artifacts, *artifact)
	}

	if err := c.writeOutputs(manifest); err != nil {
		failures = append(failures, Failure{Stage: "manifest", Error: err.Error()})
	}

	if c.logger != nil {
		c.logger.Info("Consolidated release",
			logger.WithField("artifacts", len(manifest.Artifacts)),
			logger.WithField("failures", len(failures)))
	}
	return manifest, failures
}

func (c *Consolidator) writeOutputs(manifest *Manifest) error {
	if c.outDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create release directory: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(c.outDir, "manifest.json"), data); err != nil {
		return err
	}

	sums := ""
	for _, a := range manifest.Artifacts {
		sums += fmt.Sprintf("%s  %s\n", a.SHA256, filepath.Base(a.Path))
	}
	return writeFileAtomic(filepath.Join(c.outDir, "SHA256SUMS"), []byte(sums))
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func writeFileAtomic(path string, data []byte) error {
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return err
	}
	return nil
}
