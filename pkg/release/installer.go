package release

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/patterns"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// ErrNoConvention indicates the existing installer follows no inferable
// naming convention, so no installer can be synthesized from it
var ErrNoConvention = errors.New("installer script follows no inferable naming convention")

// InstallerRequest describes one installer-generation request
type InstallerRequest struct {
	Repo        string
	Version     string
	DownloadURL string // base URL the asset name is appended to
	BinaryName  string
}

// GenerateInstaller synthesizes a self-installing script from an existing
// installer's text, reusing its inferred artifact naming convention
func GenerateInstaller(existingScript string, req InstallerRequest) (string, error) {
	pattern := patterns.Extract(existingScript)
	if pattern.Source == types.PatternSourceNone {
		return "", ErrNoConvention
	}

	assetExpr := renderAssetExpr(pattern.Template, req.Version)
	binary := req.BinaryName
	if binary == "" {
		binary = filepath.Base(req.Repo)
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Installer generated by self-releaser fallback release\n")
	fmt.Fprintf(&b, "# naming convention inferred from previous installer (%s)\n", pattern.Source)
	b.WriteString("set -eu\n\n")
	fmt.Fprintf(&b, "VERSION=%q\n", req.Version)
	b.WriteString(detectSnippet)
	fmt.Fprintf(&b, "ASSET=\"%s\"\n", assetExpr)
	fmt.Fprintf(&b, "URL=\"%s/${ASSET}\"\n\n", strings.TrimSuffix(req.DownloadURL, "/"))
	b.WriteString("echo \"Downloading ${URL}\"\n")
	b.WriteString("TMP=$(mktemp -d)\n")
	b.WriteString("trap 'rm -rf \"$TMP\"' EXIT\n")
	b.WriteString("curl -fsSL \"$URL\" -o \"$TMP/${ASSET}\"\n")
	b.WriteString("tar -xzf \"$TMP/${ASSET}\" -C \"$TMP\"\n")
	fmt.Fprintf(&b, "install -m 0755 \"$TMP/%s\" \"${PREFIX:-/usr/local/bin}/%s\"\n", binary, binary)
	fmt.Fprintf(&b, "echo \"Installed %s ${VERSION}\"\n", binary)
	return b.String(), nil
}

// WriteInstaller generates the installer and writes it next to the release
// outputs
func WriteInstaller(existingScript string, req InstallerRequest, outDir string) (string, error) {
	script, err := GenerateInstaller(existingScript, req)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(outDir, "install.sh")
	if err := writeFileAtomic(path, []byte(script)); err != nil {
		return "", err
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

const detectSnippet = `OS=$(uname -s | tr '[:upper:]' '[:lower:]')
ARCH=$(uname -m)
case "$ARCH" in
  x86_64) ARCH=amd64 ;;
  aarch64) ARCH=arm64 ;;
esac
TARGET="${OS}-${ARCH}"
`

// renderAssetExpr turns a {placeholder} template into the shell expression
// the generated script evaluates at install time
func renderAssetExpr(template, version string) string {
	replacer := strings.NewReplacer(
		"{version}", version,
		"{os}", "${OS}",
		"{arch}", "${ARCH}",
		"{target}", "${TARGET}",
	)
	out := replacer.Replace(template)
	// Any other placeholder becomes an uppercase shell variable reference.
	// The scan resumes past each rewrite so the brace inside a ${VAR} just
	// produced is never revisited.
	for i := 0; i < len(out); {
		start := strings.Index(out[i:], "{")
		if start < 0 {
			break
		}
		start += i
		if start > 0 && out[start-1] == '$' {
			i = start + 1
			continue
		}
		end := strings.Index(out[start:], "}")
		if end < 0 {
			break
		}
		end += start
		name := strings.ToUpper(out[start+1 : end])
		out = out[:start] + "${" + name + "}" + out[end+1:]
		i = start + len(name) + 3
	}
	return out
}
