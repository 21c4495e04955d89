// Package patterns infers the artifact naming convention of an existing
// installer script.
//
// The inference is an ordered list of independent heuristics, each with its
// own confidence tag, tried until one succeeds:
//
//  1. explicit-variable: the first assignment to a recognized asset-name
//     variable (TAR or ASSET_NAME), scanning left-to-right, top-to-bottom.
//     Later assignments are ignored.
//  2. url-derived: a download URL whose final path segment embeds a literal
//     filename with OS/architecture substitutions and a recognized archive
//     extension.
//  3. none: the script follows no inferable convention.
//
// The heuristics are deliberately kept separate rather than merged into one
// expression so each stays testable on its own.
//
// Note on comments: the variable scan is purely textual and does not strip
// line comments. A commented-out assignment that appears before a real one
// still wins under rule 1. This matches the long-standing behavior of the
// shell-based extractor this replaces; fixing it would change which template
// existing scripts infer to, so it stays as documented behavior for now.
package patterns

import (
	"regexp"
	"strings"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

var (
	// Recognized asset-name variables. \b keeps MY_TAR= from matching.
	assignmentRe = regexp.MustCompile(`\b(?:TAR|ASSET_NAME)=("([^"\n]*)"|'([^'\n]*)'|([^\s"']+))`)

	// Shell variable references inside a name, e.g. ${TARGET} or $OS
	shellVarRe = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

	// Download URLs ending in a recognized archive extension
	urlRe = regexp.MustCompile(`https?://[^\s"'` + "`" + `]*/([^/\s"'` + "`" + `]+?\.(?:tar\.gz|tar\.xz|tar\.bz2|tgz|zip))`)

	osTokenRe      = regexp.MustCompile(`(?i)\b(linux|darwin|macos|windows)\b`)
	archTokenRe    = regexp.MustCompile(`(?i)\b(amd64|x86_64|arm64|aarch64|armv7|386)\b`)
	versionTokenRe = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)*\b`)
)

// Extract infers the naming pattern from installer script text
func Extract(script string) types.NamingPattern {
	if template, ok := fromExplicitVariable(script); ok {
		return types.NamingPattern{Template: template, Source: types.PatternSourceExplicitVariable}
	}
	if template, ok := fromDownloadURL(script); ok {
		return types.NamingPattern{Template: template, Source: types.PatternSourceURLDerived}
	}
	return types.NamingPattern{Source: types.PatternSourceNone}
}

// fromExplicitVariable implements rule 1: first recognized assignment wins
func fromExplicitVariable(script string) (string, bool) {
	match := assignmentRe.FindStringSubmatch(script)
	if match == nil {
		return "", false
	}
	value := match[2]
	if value == "" {
		value = match[3]
	}
	if value == "" {
		value = match[4]
	}
	if value == "" {
		return "", false
	}
	return placeholderize(value), true
}

// fromDownloadURL implements rule 2: derive the template from the final
// path segment of a download URL. Only names that actually substitute an
// OS or architecture token qualify; a fixed filename is no convention.
func fromDownloadURL(script string) (string, bool) {
	for _, match := range urlRe.FindAllStringSubmatch(script, -1) {
		name := match[1]
		template := placeholderize(name)
		substituted := osTokenRe.MatchString(name) || archTokenRe.MatchString(name)
		if substituted || template != name {
			return template, true
		}
	}
	return "", false
}

// placeholderize rewrites shell variable references and well-known literal
// tokens into {placeholder} form
func placeholderize(name string) string {
	out := shellVarRe.ReplaceAllStringFunc(name, func(ref string) string {
		varName := shellVarRe.FindStringSubmatch(ref)[1]
		return "{" + strings.ToLower(varName) + "}"
	})
	out = osTokenRe.ReplaceAllString(out, "{os}")
	out = archTokenRe.ReplaceAllString(out, "{arch}")
	out = versionTokenRe.ReplaceAllString(out, "{version}")
	return out
}
