// Package provision implements the environment provisioner (C3, §4.3):
// hash, extract, locate+parse the manifest, create an isolated dependency
// sandbox, install declared dependencies, and register the result with the
// checksum index (C2).
package provision

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/coreagent/controller/internal/apierr"
	"github.com/coreagent/controller/internal/config"
	"github.com/coreagent/controller/internal/storage"
	"github.com/coreagent/controller/internal/supervisor"
)

// Result is returned by Provision; Status is "deployed" or "exists" (cached).
// Redeploying a bundle whose record was removed reports "deployed" again,
// with the same hash as before.
type Result struct {
	Status   string
	Record   storage.Record
	Manifest *config.Manifest
}

// Provisioner owns the agents_directory tree and the shared checksum index.
type Provisioner struct {
	agentsDir string
	index     *storage.Index
	log       *slog.Logger
}

// New constructs a Provisioner rooted at agentsDir (spec §6 persisted state
// layout: "<state_root>/agents/<hash>/").
func New(agentsDir string, index *storage.Index, log *slog.Logger) *Provisioner {
	return &Provisioner{agentsDir: agentsDir, index: index, log: log}
}

// Provision executes spec §4.3's eight steps in order.
func (p *Provisioner) Provision(name string, zipBytes []byte, force bool) (*Result, error) {
	hash := storage.HashBytes(zipBytes)

	// Step 2: cache hit short-circuits everything else.
	if existing, ok := p.index.Lookup(hash); ok && !force {
		m, err := config.LoadManifest(existing.InstallDir)
		if err != nil {
			return nil, apierr.Resource("cached_manifest_unreadable", err)
		}
		return &Result{Status: "exists", Record: existing, Manifest: m}, nil
	}

	installDir := filepath.Join(p.agentsDir, hash)

	// Step 3: extract.
	if err := extractZip(zipBytes, installDir); err != nil {
		return nil, apierr.Resource("extraction_failed", err)
	}

	// Steps 4-5: locate + parse manifest; roll back the extracted directory
	// on any failure past this point unless force is protecting a working
	// agent already registered under this name (spec §4.3 "Rollback").
	manifest, err := config.LoadManifest(installDir)
	if err != nil {
		p.rollback(installDir, name, force)
		if err == config.ErrManifestNotFound {
			return nil, apierr.Input("missing_manifest", err)
		}
		return nil, apierr.Input("invalid_manifest", err)
	}

	resolvedName := name
	if resolvedName == "" {
		resolvedName = manifest.Agent.Name
	}

	// Step 6-7: dependency sandbox + install.
	if err := p.ensureSandbox(installDir, manifest); err != nil {
		p.rollback(installDir, resolvedName, force)
		return nil, apierr.Input("dependency_install_failed", err)
	}

	rec := storage.Record{
		Name:         resolvedName,
		Hash:         hash,
		InstallDir:   installDir,
		Manifest:     manifestFilename(installDir),
		Capabilities: manifest.Agent.Capabilities,
		Version:      manifest.Agent.Version,
		CreatedAt:    time.Now(),
	}

	// Step 8: register.
	if err := p.index.Insert(rec, force); err != nil {
		p.rollback(installDir, resolvedName, force)
		return nil, err
	}

	p.log.Info("agent provisioned", "name", resolvedName, "hash", hash)
	return &Result{Status: "deployed", Record: rec, Manifest: manifest}, nil
}

// rollback removes the extracted directory unless force is set and a prior
// record for this name already exists (spec §4.3 "Rollback" clause).
func (p *Provisioner) rollback(installDir, name string, force bool) {
	if force && p.index.RecordExists(name) {
		return
	}
	if err := os.RemoveAll(installDir); err != nil {
		p.log.Warn("rollback cleanup failed", "dir", installDir, "error", err)
	}
}

func manifestFilename(installDir string) string {
	for _, name := range config.ManifestFilenames {
		if _, err := os.Stat(filepath.Join(installDir, name)); err == nil {
			return name
		}
	}
	return ""
}

// extractZip unpacks a zip archive into dir, rejecting any entry that would
// escape the target directory (zip-slip).
func extractZip(data []byte, dir string) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}

	for _, f := range r.File {
		target := filepath.Join(dir, f.Name)
		if !withinDir(dir, target) {
			return fmt.Errorf("entry %q escapes install directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extracting %q: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func withinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel))
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == "../"
}

// ensureSandbox creates the dependency sandbox at <install_dir>/env and
// installs declared packages, skipping both steps if a sandbox already
// exists and passes a smoke check (spec §4.3 "Idempotence").
func (p *Provisioner) ensureSandbox(installDir string, m *config.Manifest) error {
	envDir := filepath.Join(installDir, "env")

	if sandboxSmokeCheck(envDir, m.Dependencies.Packages) {
		p.stageAgentRuntime(envDir)
		return nil
	}

	runtime := sandboxRuntimeFor(m.Dependencies.RuntimeVersionConstraint, installDir)
	if err := runtime.create(envDir); err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}
	p.stageAgentRuntime(envDir)

	if len(m.Dependencies.Packages) == 0 {
		return nil
	}

	cmd := runtime.installCmd(envDir, m.Dependencies.Packages)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dependency install exited non-zero: %w\nstdout:\n%s\nstderr:\n%s", err, stdout.String(), stderr.String())
	}
	return nil
}

// stageAgentRuntime copies the controller's own agent-runtime binary —
// built as a sibling executable alongside the running controller binary —
// into the sandbox's env/bin directory, so supervisor.doStart's exec target
// (env/bin/agentrt) actually exists (spec §4.4, "the controller always
// spawns a separate process per agent"). Deployments are expected to build
// controller and agentrt into the same directory; when no sibling binary is
// found (as in unit tests, or a controller-only build), staging is skipped
// and logged rather than failing the whole provision; a later Start then
// fails with child_failed_to_start and records the exec error as the
// instance's last_error.
func (p *Provisioner) stageAgentRuntime(envDir string) {
	self, err := os.Executable()
	if err != nil {
		p.log.Warn("cannot locate controller binary to stage agent runtime", "error", err)
		return
	}

	src := filepath.Join(filepath.Dir(self), supervisor.AgentRuntimeBinary)
	info, err := os.Stat(src)
	if err != nil {
		p.log.Warn("no agent runtime binary next to controller binary; agent starts will fail until one is built alongside it",
			"expected", src, "error", err)
		return
	}

	binDir := filepath.Join(envDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		p.log.Warn("failed to create sandbox bin directory", "dir", binDir, "error", err)
		return
	}

	data, err := os.ReadFile(src)
	if err != nil {
		p.log.Warn("failed to read agent runtime binary", "src", src, "error", err)
		return
	}

	dst := filepath.Join(binDir, supervisor.AgentRuntimeBinary)
	if err := os.WriteFile(dst, data, info.Mode()|0o111); err != nil {
		p.log.Warn("failed to stage agent runtime binary", "dst", dst, "error", err)
	}
}

// sandboxRuntime abstracts the per-language isolation mechanism (spec §4.3
// step 6: "the host language's standard isolation mechanism").
type sandboxRuntime struct {
	create     func(envDir string) error
	installCmd func(envDir string, packages []string) *exec.Cmd
}

// sandboxRuntimeFor returns the isolation mechanism: always a Python venv
// (python3 -m venv) with pip as the installer. The declared runtime
// constraint is accepted but not consulted; no other language runtime is
// supported.
func sandboxRuntimeFor(constraint, installDir string) sandboxRuntime {
	_ = constraint
	return sandboxRuntime{
		create: func(envDir string) error {
			cmd := exec.Command("python3", "-m", "venv", envDir)
			cmd.Dir = installDir
			return cmd.Run()
		},
		installCmd: func(envDir string, packages []string) *exec.Cmd {
			pip := filepath.Join(envDir, "bin", "pip")
			args := append([]string{"install"}, packages...)
			cmd := exec.Command(pip, args...)
			cmd.Dir = installDir
			return cmd
		},
	}
}

// sandboxSmokeCheck performs an import/resolve smoke check of the
// manifest-declared dependency names (spec §4.3 "Idempotence").
func sandboxSmokeCheck(envDir string, packages []string) bool {
	pythonBin := filepath.Join(envDir, "bin", "python3")
	if _, err := os.Stat(pythonBin); err != nil {
		return false
	}
	for _, pkg := range packages {
		cmd := exec.Command(pythonBin, "-c", "import "+normalizeImportName(pkg))
		if err := cmd.Run(); err != nil {
			return false
		}
	}
	return true
}

// normalizeImportName strips a version pin (e.g. "requests==2.31") down to
// the bare importable module name for the smoke check.
func normalizeImportName(pkg string) string {
	for i, r := range pkg {
		if r == '=' || r == '<' || r == '>' || r == '[' {
			return pkg[:i]
		}
	}
	return pkg
}
