package blobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/lock"
	"github.com/mattjoyce/cmci/internal/log"
	"github.com/mattjoyce/cmci/internal/runner"
	"github.com/mattjoyce/cmci/internal/target"
)

// lockFile guards bin/ against concurrent assembly.
const lockFile = ".assemble.lock"

// artifactTarget is a target the pre-built archives are produced for, with the
// --cfg flags rustc receives when assembling for it.
type artifactTarget struct {
	triple target.Triple
	cfgs   []string
}

// artifactTargets mirrors the crate's xtask target table. These cfgs are not
// the build script's: thumbv6m gets none here.
var artifactTargets = []artifactTarget{
	{"thumbv6m-none-eabi", nil},
	{"thumbv7m-none-eabi", []string{"armv7m"}},
	{"thumbv7em-none-eabi", []string{"armv7m", "armv7em"}},
	{"thumbv7em-none-eabihf", []string{"armv7m", "armv7em", "has_fpu"}},
	{"thumbv8m.base-none-eabi", []string{"armv8m", "armv8m_base"}},
	{"thumbv8m.main-none-eabi", []string{"armv7m", "armv8m", "armv8m_main"}},
	{"thumbv8m.main-none-eabihf", []string{"armv7m", "armv8m", "armv8m_main", "has_fpu"}},
}

// Runner executes a single step.
type Runner interface {
	Run(ctx context.Context, step runner.Step) (*runner.Outcome, error)
}

// Assembler rebuilds the pre-built archives for every embedded target.
type Assembler struct {
	runner    Runner
	toolchain config.ToolchainConfig
	dir       string
	targets   []artifactTarget
	logger    *slog.Logger
	outcomes  []*runner.Outcome
}

// NewAssembler creates an Assembler for the crate rooted at dir.
func NewAssembler(r Runner, tc config.ToolchainConfig, dir string) *Assembler {
	return &Assembler{
		runner:    r,
		toolchain: tc,
		dir:       dir,
		targets:   artifactTargets,
		logger:    log.WithComponent("blobs"),
	}
}

// Outcomes returns every step run so far, including failed probes.
func (a *Assembler) Outcomes() []*runner.Outcome {
	return a.outcomes
}

// BinDir is the absolute artifact directory.
func (a *Assembler) BinDir() string {
	return filepath.Join(a.dir, a.toolchain.BinDir)
}

// PinnedToolchain reads the toolchain name from the toolchain file.
func (a *Assembler) PinnedToolchain() (string, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, a.toolchain.ToolchainFile))
	if err != nil {
		return "", fmt.Errorf("read toolchain file: %w", err)
	}
	tc := strings.TrimSpace(string(data))
	if tc == "" {
		return "", fmt.Errorf("toolchain file %s is empty", a.toolchain.ToolchainFile)
	}
	return tc, nil
}

// Assemble rebuilds all archives under the assembly lock.
func (a *Assembler) Assemble(ctx context.Context) error {
	if err := os.MkdirAll(a.BinDir(), 0o755); err != nil {
		return fmt.Errorf("create bin dir: %w", err)
	}
	l, err := lock.Acquire(filepath.Join(a.BinDir(), lockFile))
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	defer l.Release()

	return a.assembleLocked(ctx)
}

func (a *Assembler) assembleLocked(ctx context.Context) error {
	tc, err := a.PinnedToolchain()
	if err != nil {
		return err
	}
	if err := a.ensureToolchain(ctx, tc); err != nil {
		return err
	}

	for _, at := range a.targets {
		a.logger.Info("building artifacts", "target", at.triple.String())
		for _, lto := range []bool{false, true} {
			if err := a.assembleOne(ctx, tc, at.triple, lto); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckBlobs rebuilds the archives and fails unless they match the existing ones.
func (a *Assembler) CheckBlobs(ctx context.Context) error {
	if err := os.MkdirAll(a.BinDir(), 0o755); err != nil {
		return fmt.Errorf("create bin dir: %w", err)
	}
	l, err := lock.Acquire(filepath.Join(a.BinDir(), lockFile))
	if err != nil {
		return fmt.Errorf("check-blobs: %w", err)
	}
	defer l.Release()

	before, err := Snapshot(a.BinDir())
	if err != nil {
		return err
	}
	if err := a.assembleLocked(ctx); err != nil {
		return err
	}
	after, err := Snapshot(a.BinDir())
	if err != nil {
		return err
	}
	if err := Compare(before, after); err != nil {
		return err
	}
	a.logger.Info("blobs identical", "count", len(after))
	return nil
}

// ensureToolchain installs the pinned toolchain and all targets if rustc
// cannot run with it.
func (a *Assembler) ensureToolchain(ctx context.Context, tc string) error {
	probe := runner.Step{
		Name: "rustc-version",
		Kind: runner.KindTool,
		Argv: []string{a.toolchain.Rustc, "+" + tc, "-V"},
		Dir:  a.dir,
	}
	if err := a.run(ctx, probe); err == nil {
		return nil
	}

	a.logger.Warn("asm toolchain does not seem to be installed, installing it now", "toolchain", tc)

	install := runner.Step{
		Name: "rustup-install",
		Kind: runner.KindTool,
		Argv: []string{a.toolchain.Rustup, "install", tc},
		Dir:  a.dir,
	}
	if err := a.run(ctx, install); err != nil {
		return fmt.Errorf("rustup install %s: %w", tc, err)
	}

	argv := []string{a.toolchain.Rustup, "target", "add"}
	for _, at := range a.targets {
		argv = append(argv, at.triple.String())
	}
	argv = append(argv, "--toolchain", tc)
	addTargets := runner.Step{Name: "rustup-target-add", Kind: runner.KindTool, Argv: argv, Dir: a.dir}
	if err := a.run(ctx, addTargets); err != nil {
		return fmt.Errorf("rustup target add: %w", err)
	}
	return nil
}

// CompileStep returns the rustc invocation producing bin/<stub>.o.
func (a *Assembler) CompileStep(tc string, t target.Triple, lto bool) runner.Step {
	stub := stubName(t, lto)
	argv := []string{a.toolchain.Rustc, "+" + tc, "--target", t.String()}
	for _, cfg := range a.cfgs(t) {
		argv = append(argv, "--cfg="+cfg)
	}
	argv = append(argv,
		"-g",
		"-O",
		"-Cforce-frame-pointers=no",
		"--remap-path-prefix", a.dir+"=.",
		"--emit=obj",
	)
	if lto {
		argv = append(argv, "-Clinker-plugin-lto")
	}
	argv = append(argv, "-o", a.objectName(stub), a.toolchain.AsmSource)

	return runner.Step{
		Name: "assemble:" + stub,
		Kind: runner.KindAssemble,
		Argv: argv,
		Dir:  a.dir,
	}
}

func (a *Assembler) assembleOne(ctx context.Context, tc string, t target.Triple, lto bool) error {
	step := a.CompileStep(tc, t, lto)
	if err := a.run(ctx, step); err != nil {
		return fmt.Errorf("assemble %s: %w", t, err)
	}

	stub := stubName(t, lto)
	objRel := a.objectName(stub)
	objPath := filepath.Join(a.dir, filepath.FromSlash(objRel))
	obj, err := os.ReadFile(objPath)
	if err != nil {
		return fmt.Errorf("read object: %w", err)
	}

	archivePath := filepath.Join(a.BinDir(), stub+".a")
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	// Member name is the relative object path, matching what `ar` would record.
	if err := WriteArchive(f, []Member{{Name: objRel, Data: obj}}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write archive %s: %w", archivePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Remove(objPath); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (a *Assembler) run(ctx context.Context, step runner.Step) error {
	out, err := a.runner.Run(ctx, step)
	if out == nil {
		out = &runner.Outcome{Step: step, ExitCode: runner.ExitCode(err)}
	}
	a.outcomes = append(a.outcomes, out)
	return err
}

func (a *Assembler) cfgs(t target.Triple) []string {
	for _, at := range a.targets {
		if at.triple == t {
			return at.cfgs
		}
	}
	return nil
}

func (a *Assembler) objectName(stub string) string {
	return path.Join(filepath.ToSlash(a.toolchain.BinDir), stub+".o")
}

func stubName(t target.Triple, lto bool) string {
	if lto {
		return t.String() + "-lto"
	}
	return t.String()
}
