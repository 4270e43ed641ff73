// Package hil builds firmware images and runs them on an emulator or a
// physical board.
package hil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/log"
	"github.com/mattjoyce/cmci/internal/runner"
	"github.com/mattjoyce/cmci/internal/target"
)

// ArtifactKind selects which cargo target kind to build.
type ArtifactKind string

const (
	KindExample ArtifactKind = "example"
	KindTest    ArtifactKind = "test"
)

// Artifact identifies one firmware image.
type Artifact struct {
	Target  target.Triple
	Kind    ArtifactKind
	Name    string
	Release bool
}

// Validate checks the artifact can be built for a board.
func (a Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artifact name is required")
	}
	switch a.Kind {
	case KindExample, KindTest:
	default:
		return fmt.Errorf("unknown artifact kind %q (want example or test)", a.Kind)
	}
	if !target.Classify(a.Target).Embedded() {
		return fmt.Errorf("target %q is not a bare-metal thumb target", a.Target)
	}
	return nil
}

func (a Artifact) profile() string {
	if a.Release {
		return "release"
	}
	return "debug"
}

// Runner executes a single step.
type Runner interface {
	Run(ctx context.Context, step runner.Step) (*runner.Outcome, error)
}

// Workflow drives the build, emulate and flash steps for one crate.
type Workflow struct {
	runner   Runner
	cfg      config.HILConfig
	cargo    string
	dir      string
	logger   *slog.Logger
	outcomes []*runner.Outcome
}

// New creates a Workflow for the crate rooted at dir.
func New(r Runner, cfg *config.Config, dir string) *Workflow {
	return &Workflow{
		runner: r,
		cfg:    cfg.HIL,
		cargo:  cfg.Toolchain.Cargo,
		dir:    dir,
		logger: log.WithComponent("hil"),
	}
}

// Outcomes returns every step run so far.
func (w *Workflow) Outcomes() []*runner.Outcome {
	return w.outcomes
}

// BuildStep returns the cargo invocation that produces the artifact.
func (w *Workflow) BuildStep(a Artifact) runner.Step {
	argv := []string{w.cargo, "build", "--target", a.Target.String(), "--" + string(a.Kind), a.Name}
	if a.Release {
		argv = append(argv, "--release")
	}
	return runner.Step{
		Name: "build:" + a.Name,
		Kind: runner.KindBuild,
		Argv: argv,
		Dir:  w.dir,
	}
}

// Build compiles the artifact and returns the path of the resulting ELF.
func (w *Workflow) Build(ctx context.Context, a Artifact) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if err := w.run(ctx, w.BuildStep(a)); err != nil {
		return "", fmt.Errorf("build %s: %w", a.Name, err)
	}
	elf, err := w.ResolveELF(a)
	if err != nil {
		return "", err
	}
	w.logger.Info("firmware built", "target", a.Target.String(), "elf", elf)
	return elf, nil
}

// ResolveELF locates the image cargo wrote for a. Examples have a fixed
// path; test binaries carry a hash suffix, so the newest match wins.
func (w *Workflow) ResolveELF(a Artifact) (string, error) {
	base := filepath.Join(w.dir, "target", a.Target.String(), a.profile())

	if a.Kind == KindExample {
		elf := filepath.Join(base, "examples", a.Name)
		if _, err := os.Stat(elf); err != nil {
			return "", fmt.Errorf("example image not found: %w", err)
		}
		return elf, nil
	}

	matches, err := filepath.Glob(filepath.Join(base, "deps", a.Name+"-*"))
	if err != nil {
		return "", err
	}
	var newest string
	var newestMod int64
	for _, m := range matches {
		if strings.Contains(filepath.Base(m), ".") {
			continue // .d, .rmeta, .o
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = m, mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no test image for %s under %s", a.Name, filepath.Join(base, "deps"))
	}
	return newest, nil
}

// EmulateStep returns the QEMU invocation for elf. Semihosting output goes
// to the runner's stdout; QEMU's exit status is the test result.
func (w *Workflow) EmulateStep(elf string) runner.Step {
	argv := append([]string{w.cfg.QEMU}, w.cfg.QEMUArgs...)
	argv = append(argv, "-kernel", elf)
	return runner.Step{
		Name: "qemu:" + filepath.Base(elf),
		Kind: runner.KindEmulate,
		Argv: argv,
		Dir:  w.dir,
	}
}

// Emulate runs elf under QEMU.
func (w *Workflow) Emulate(ctx context.Context, elf string) error {
	if err := w.run(ctx, w.EmulateStep(elf)); err != nil {
		return fmt.Errorf("qemu %s: %w", filepath.Base(elf), err)
	}
	return nil
}

// FlashStep returns the probe-run invocation for elf, bounded by the
// configured wall-clock timeout.
func (w *Workflow) FlashStep(elf string) runner.Step {
	return runner.Step{
		Name:    "probe:" + filepath.Base(elf),
		Kind:    runner.KindFlash,
		Argv:    []string{w.cfg.Probe, "--chip", w.cfg.Chip, elf},
		Dir:     w.dir,
		Timeout: w.cfg.Timeout,
	}
}

// Flash programs elf onto the attached board and waits for it to finish.
func (w *Workflow) Flash(ctx context.Context, elf string) error {
	if err := w.run(ctx, w.FlashStep(elf)); err != nil {
		return fmt.Errorf("probe-run %s: %w", filepath.Base(elf), err)
	}
	return nil
}

func (w *Workflow) run(ctx context.Context, step runner.Step) error {
	out, err := w.runner.Run(ctx, step)
	if out == nil {
		out = &runner.Outcome{Step: step, ExitCode: runner.ExitCode(err)}
	}
	w.outcomes = append(w.outcomes, out)
	return err
}
