package release_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/release"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

type fakeSigner struct {
	failPaths map[string]bool
	signed    []string
}

func (f *fakeSigner) Sign(ctx context.Context, path string) (string, error) {
	if f.failPaths[path] {
		return "", errors.New("signing key unavailable")
	}
	f.signed = append(f.signed, path)
	return path + ".sig", nil
}

type fakeSBOM struct {
	fail bool
}

func (f *fakeSBOM) Generate(ctx context.Context, path string) (string, error) {
	if f.fail {
		return "", errors.New("sbom scan failed")
	}
	return path + ".sbom.json", nil
}

func writeArtifact(t *testing.T, dir, name, content string) *types.Artifact {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return &types.Artifact{Platform: "linux/amd64", Path: path}
}

func testRun() *types.RunRecord {
	return &types.RunRecord{
		RunID:     "run-1",
		Repo:      "acme/tool",
		Version:   "v1.0.0",
		StartedAt: time.Now(),
	}
}

func TestConsolidateHashesAndSigns(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "release")
	signer := &fakeSigner{}
	c := release.NewConsolidator(signer, &fakeSBOM{}, nil, outDir)

	artifact := writeArtifact(t, dir, "tool-linux-amd64.tar.gz", "artifact body")
	manifest, failures := c.Consolidate(context.Background(), testRun(), []*types.Artifact{artifact})

	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(manifest.Artifacts) != 1 {
		t.Fatalf("manifest artifacts: %d", len(manifest.Artifacts))
	}

	got := manifest.Artifacts[0]
	want := sha256.Sum256([]byte("artifact body"))
	if got.SHA256 != hex.EncodeToString(want[:]) {
		t.Errorf("checksum mismatch: %s", got.SHA256)
	}
	if !got.Signed || got.SignaturePath != artifact.Path+".sig" {
		t.Errorf("artifact not signed: %+v", got)
	}
	if got.SBOMPath != artifact.Path+".sbom.json" {
		t.Errorf("sbom path: %s", got.SBOMPath)
	}
}

func TestConsolidateWritesManifestAndSums(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "release")
	c := release.NewConsolidator(nil, nil, nil, outDir)

	artifact := writeArtifact(t, dir, "tool-linux-amd64.tar.gz", "body")
	_, failures := c.Consolidate(context.Background(), testRun(), []*types.Artifact{artifact})
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	if _, err := os.Stat(filepath.Join(outDir, "manifest.json")); err != nil {
		t.Errorf("manifest.json missing: %v", err)
	}
	sums, err := os.ReadFile(filepath.Join(outDir, "SHA256SUMS"))
	if err != nil {
		t.Fatalf("SHA256SUMS missing: %v", err)
	}
	if !strings.Contains(string(sums), "tool-linux-amd64.tar.gz") {
		t.Errorf("SHA256SUMS content: %s", sums)
	}
}

func TestConsolidateNameCollision(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	c := release.NewConsolidator(nil, nil, nil, filepath.Join(dir, "release"))

	first := writeArtifact(t, dir, "tool.tar.gz", "one")
	second := writeArtifact(t, sub, "tool.tar.gz", "two")

	manifest, failures := c.Consolidate(context.Background(), testRun(), []*types.Artifact{first, second})

	if len(manifest.Artifacts) != 1 {
		t.Errorf("only the first artifact should publish, got %d", len(manifest.Artifacts))
	}
	if len(failures) != 1 || failures[0].Stage != "collision" {
		t.Fatalf("expected one collision failure, got %v", failures)
	}
	if failures[0].Artifact != second.Path {
		t.Errorf("collision recorded against wrong artifact: %s", failures[0].Artifact)
	}
}

func TestConsolidateSignFailureDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	first := writeArtifact(t, dir, "tool-linux-amd64.tar.gz", "one")
	second := writeArtifact(t, dir, "tool-darwin-arm64.tar.gz", "two")

	signer := &fakeSigner{failPaths: map[string]bool{first.Path: true}}
	c := release.NewConsolidator(signer, nil, nil, filepath.Join(dir, "release"))

	manifest, failures := c.Consolidate(context.Background(), testRun(), []*types.Artifact{first, second})

	if len(failures) != 1 || failures[0].Stage != "sign" {
		t.Fatalf("expected one sign failure, got %v", failures)
	}
	// Both artifacts still publish; the unsigned one is just unsigned.
	if len(manifest.Artifacts) != 2 {
		t.Fatalf("manifest artifacts: %d", len(manifest.Artifacts))
	}
	for _, a := range manifest.Artifacts {
		if a.Path == first.Path && a.Signed {
			t.Error("failed signing must not mark the artifact signed")
		}
		if a.Path == second.Path && !a.Signed {
			t.Error("sibling artifact should still sign")
		}
	}
}

func TestConsolidateSBOMFailureRecorded(t *testing.T) {
	dir := t.TempDir()
	artifact := writeArtifact(t, dir, "tool.tar.gz", "body")

	c := release.NewConsolidator(nil, &fakeSBOM{fail: true}, nil, filepath.Join(dir, "release"))
	manifest, failures := c.Consolidate(context.Background(), testRun(), []*types.Artifact{artifact})

	if len(failures) != 1 || failures[0].Stage != "sbom" {
		t.Fatalf("expected one sbom failure, got %v", failures)
	}
	if len(manifest.Artifacts) != 1 || manifest.Artifacts[0].SBOMPath != "" {
		t.Errorf("artifact should publish without an SBOM: %+v", manifest.Artifacts)
	}
}

func TestConsolidateMissingFile(t *testing.T) {
	dir := t.TempDir()
	c := release.NewConsolidator(nil, nil, nil, filepath.Join(dir, "release"))

	ghost := &types.Artifact{Platform: "linux/amd64", Path: filepath.Join(dir, "missing.tar.gz")}
	manifest, failures := c.Consolidate(context.Background(), testRun(), []*types.Artifact{ghost})

	if len(manifest.Artifacts) != 0 {
		t.Errorf("missing file must not publish")
	}
	if len(failures) != 1 || failures[0].Stage != "checksum" {
		t.Fatalf("expected one checksum failure, got %v", failures)
	}
}
