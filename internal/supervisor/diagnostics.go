package supervisor

import (
	"fmt"
	"regexp"
	"runtime"
)

// classification tags enumerated in spec §4.4 item 2.
const (
	ClassLanguageRuntimeIncompatibility = "language-runtime-incompatibility"
	ClassMissingDependency              = "missing-dependency"
	ClassPortInUse                      = "port-in-use"
	ClassPermissionDenied               = "permission-denied"
	ClassUpstreamConnectFailure         = "upstream-connect-failure"
	ClassUnknown                        = "unknown"
)

// classificationRule is one row of the small, documented regex->tag table
// required by spec §9 ("all classifications are enumerable for tests"),
// grounded on pkg/mcp/recovery.go's ClassifyError switch shape.
type classificationRule struct {
	pattern     *regexp.Regexp
	tag         string
	remediation string
}

var classificationTable = []classificationRule{
	{
		pattern:     regexp.MustCompile(`(?i)ModuleNotFoundError|no module named|cannot find package|package .* is not installed`),
		tag:         ClassMissingDependency,
		remediation: "run the sandbox's installer on the declared requirements",
	},
	{
		pattern:     regexp.MustCompile(`(?i)address already in use|EADDRINUSE|port .* in use`),
		tag:         ClassPortInUse,
		remediation: "release the conflicting port or widen the configured port range",
	},
	{
		pattern:     regexp.MustCompile(`(?i)permission denied|EACCES|operation not permitted`),
		tag:         ClassPermissionDenied,
		remediation: "check file permissions on the install directory and entry point",
	},
	{
		pattern:     regexp.MustCompile(`(?i)connection refused|could not connect|ECONNREFUSED|dial tcp.*refused`),
		tag:         ClassUpstreamConnectFailure,
		remediation: "verify the declared LLM/MCP endpoint is reachable from the agent's sandbox",
	},
	{
		pattern:     regexp.MustCompile(`(?i)wrong ELF class|bad interpreter|SyntaxError: invalid syntax|unsupported runtime version`),
		tag:         ClassLanguageRuntimeIncompatibility,
		remediation: "match the declared runtime_version_constraint to an installed runtime on the host",
	},
}

// classify scans captured stderr against the classification table in
// order, returning the first match, or ClassUnknown.
func classify(stderr string) (tag, remediation string) {
	for _, rule := range classificationTable {
		if rule.pattern.MatchString(stderr) {
			return rule.tag, rule.remediation
		}
	}
	return ClassUnknown, "inspect the full captured stdio for this instance"
}

// buildDiagnostic assembles the structured failure report from spec §4.4
// item 4: exit code, last N KB of stdout/stderr, classification, remediation,
// and environment probes (declared vs. host runtime version).
func buildDiagnostic(exitCode int, stdout, stderr, runtimeConstraint string) *Diagnostic {
	tag, remediation := classify(stderr)
	return &Diagnostic{
		ExitCode:       exitCode,
		StdoutExcerpt:  stdout,
		StderrExcerpt:  stderr,
		Classification: tag,
		Remediation:    remediation,
		EnvProbes: map[string]string{
			"host_go_version":        runtime.Version(),
			"declared_runtime_constraint": runtimeConstraint,
		},
	}
}

// ensureAbsent is a tiny guard used by the manifest-presence probe in
// spec §4.4 item 3 ("inspects the install directory for presence/absence
// of manifest, entry point, dependency list, and sandbox").
func ensureAbsent(path string, present bool) string {
	if present {
		return fmt.Sprintf("%s: present", path)
	}
	return fmt.Sprintf("%s: absent", path)
}
