package rules

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/sentrycore/sentinel/internal/policy"
)

// protectedBasenames are exact-basename matches (case-insensitive per
// spec.md §9 open question 4: protected-path matching is case-insensitive
// even though the source this was distilled from was inconsistent about
// it).
var protectedBasenames = []string{
	"wallet.json", "wallet.key", ".env", "config.json", "soul.json",
	"identity.json", "policy.go", "rules.go", "sandbox_defense.go",
}

// protectedDirPrefixes are directory-segment matches: any path with one of
// these as a path component is protected, regardless of depth.
var protectedDirPrefixes = []string{
	".ssh", ".gnupg", "etc/systemd/system", "proc/self",
}

// sensitiveBasenameSuffixes covers read-sensitive file patterns: wallets,
// env files, private keys, and PEM material.
var sensitiveBasenameSuffixes = []string{".key", ".pem"}

var sensitiveBasenamePrefixes = []string{"private-key"}

var sensitiveBasenames = []string{"wallet.json", ".env", "config.json"}

// isProtected matches on exact path segments — basename equality or a
// protected-directory prefix — never substring containment, and is
// case-insensitive throughout.
func isProtected(path string) bool {
	normalized := strings.ToLower(filepath.ToSlash(path))
	segments := strings.Split(strings.Trim(normalized, "/"), "/")
	if len(segments) == 0 {
		return false
	}
	base := segments[len(segments)-1]
	for _, b := range protectedBasenames {
		if base == strings.ToLower(b) {
			return true
		}
	}
	for _, dir := range protectedDirPrefixes {
		dirLower := strings.ToLower(dir)
		for _, seg := range segments[:len(segments)-1] {
			if seg == dirLower {
				return true
			}
		}
		if strings.Contains("/"+strings.Join(segments, "/")+"/", "/"+dirLower+"/") {
			return true
		}
	}
	return false
}

// isSensitiveRead matches wallet, env, config, *.key, *.pem, private-key*.
func isSensitiveRead(path string) bool {
	normalized := strings.ToLower(filepath.ToSlash(path))
	segments := strings.Split(strings.Trim(normalized, "/"), "/")
	base := segments[len(segments)-1]

	for _, b := range sensitiveBasenames {
		if base == b {
			return true
		}
	}
	for _, suffix := range sensitiveBasenameSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	for _, prefix := range sensitiveBasenamePrefixes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

// hasTraversalOutsideCWD reports whether path contains ".." components that
// would resolve outside the working directory, or "//" sequences.
func hasTraversalOutsideCWD(path string) bool {
	if strings.Contains(path, "//") {
		return true
	}
	if !strings.Contains(path, "..") {
		return false
	}
	cleaned := filepath.Clean(filepath.Join("/cwd", path))
	return !strings.HasPrefix(cleaned, "/cwd")
}

// ProtectedFiles is path.protected_files.
func ProtectedFiles() policy.Rule {
	return policy.Func{
		RuleID:   "path.protected_files",
		RulePrio: 200,
		Selector: policy.ByName("write_file", "edit_own_file"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			path, ok := argString(req, "path")
			if ok && isProtected(path) {
				return policy.Deny("PROTECTED_FILE", "path targets a protected file"), nil
			}
			return nil, nil
		},
	}
}

// ReadSensitive is path.read_sensitive.
func ReadSensitive() policy.Rule {
	return policy.Func{
		RuleID:   "path.read_sensitive",
		RulePrio: 200,
		Selector: policy.ByName("read_file"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			path, ok := argString(req, "path")
			if ok && isSensitiveRead(path) {
				return policy.Deny("SENSITIVE_FILE_READ", "path targets a sensitive file (wallet, env, config, key, or pem material)"), nil
			}
			return nil, nil
		},
	}
}

// TraversalDetection is path.traversal_detection.
func TraversalDetection() policy.Rule {
	return policy.Func{
		RuleID:   "path.traversal_detection",
		RulePrio: 200,
		Selector: policy.ByName("write_file", "read_file", "edit_own_file"),
		EvaluateFn: func(_ context.Context, req policy.Request) (*policy.RuleResult, error) {
			path, ok := argString(req, "path")
			if ok && hasTraversalOutsideCWD(path) {
				return policy.Deny("PATH_TRAVERSAL", "path resolves outside the working directory or contains // sequences"), nil
			}
			return nil, nil
		},
	}
}
