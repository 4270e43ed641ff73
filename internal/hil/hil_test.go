package hil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/cmci/internal/config"
	"github.com/mattjoyce/cmci/internal/dispatch/mocks"
	"github.com/mattjoyce/cmci/internal/log"
	"github.com/mattjoyce/cmci/internal/runner"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF"), 0o755))
}

func TestArtifactValidate(t *testing.T) {
	tests := []struct {
		name    string
		art     Artifact
		wantErr string
	}{
		{"ok", Artifact{Target: "thumbv7m-none-eabi", Kind: KindExample, Name: "hello"}, ""},
		{"missing name", Artifact{Target: "thumbv7m-none-eabi", Kind: KindExample}, "name is required"},
		{"bad kind", Artifact{Target: "thumbv7m-none-eabi", Kind: "bench", Name: "x"}, "unknown artifact kind"},
		{"hosted target", Artifact{Target: "x86_64-unknown-linux-gnu", Kind: KindTest, Name: "x"}, "not a bare-metal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.art.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildStep(t *testing.T) {
	w := New(nil, config.Defaults(), "/crate")

	step := w.BuildStep(Artifact{Target: "thumbv7m-none-eabi", Kind: KindExample, Name: "qemu", Release: true})
	assert.Equal(t, []string{"cargo", "build", "--target", "thumbv7m-none-eabi", "--example", "qemu", "--release"}, step.Argv)
	assert.Equal(t, runner.KindBuild, step.Kind)
	assert.Equal(t, "/crate", step.Dir)

	step = w.BuildStep(Artifact{Target: "thumbv7m-none-eabi", Kind: KindTest, Name: "integration"})
	assert.Equal(t, []string{"cargo", "build", "--target", "thumbv7m-none-eabi", "--test", "integration"}, step.Argv)
}

func TestBuildResolvesExample(t *testing.T) {
	dir := t.TempDir()
	ctrl := gomock.NewController(t)
	mock := mocks.NewMockRunner(ctrl)

	art := Artifact{Target: "thumbv7m-none-eabi", Kind: KindExample, Name: "qemu"}
	want := filepath.Join(dir, "target", "thumbv7m-none-eabi", "debug", "examples", "qemu")

	mock.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, step runner.Step) (*runner.Outcome, error) {
			touch(t, want)
			return &runner.Outcome{Step: step}, nil
		})

	w := New(mock, config.Defaults(), dir)
	elf, err := w.Build(context.Background(), art)
	require.NoError(t, err)
	assert.Equal(t, want, elf)
	assert.Len(t, w.Outcomes(), 1)
}

func TestBuildFailurePropagatesExitCode(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := mocks.NewMockRunner(ctrl)
	mock.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, step runner.Step) (*runner.Outcome, error) {
			return &runner.Outcome{Step: step, ExitCode: 101}, &runner.ExitError{Step: step.Name, Code: 101}
		})

	_, err := New(mock, config.Defaults(), t.TempDir()).Build(context.Background(),
		Artifact{Target: "thumbv6m-none-eabi", Kind: KindExample, Name: "x"})
	require.Error(t, err)
	assert.Equal(t, 101, runner.ExitCode(err))
}

func TestResolveELFPicksNewestTestBinary(t *testing.T) {
	dir := t.TempDir()
	deps := filepath.Join(dir, "target", "thumbv7em-none-eabihf", "release", "deps")
	old := filepath.Join(deps, "integration-aaaa")
	fresh := filepath.Join(deps, "integration-bbbb")
	touch(t, old)
	touch(t, fresh)
	touch(t, filepath.Join(deps, "integration-cccc.d"))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	w := New(nil, config.Defaults(), dir)
	elf, err := w.ResolveELF(Artifact{Target: "thumbv7em-none-eabihf", Kind: KindTest, Name: "integration", Release: true})
	require.NoError(t, err)
	assert.Equal(t, fresh, elf)
}

func TestResolveELFMissing(t *testing.T) {
	w := New(nil, config.Defaults(), t.TempDir())

	_, err := w.ResolveELF(Artifact{Target: "thumbv7m-none-eabi", Kind: KindTest, Name: "nope"})
	assert.Error(t, err)
	_, err = w.ResolveELF(Artifact{Target: "thumbv7m-none-eabi", Kind: KindExample, Name: "nope"})
	assert.Error(t, err)
}

func TestEmulateStep(t *testing.T) {
	step := New(nil, config.Defaults(), "/crate").EmulateStep("/crate/fw.elf")

	assert.Equal(t, []string{
		"qemu-system-arm",
		"-cpu", "cortex-m3",
		"-machine", "lm3s6965evb",
		"-nographic",
		"-semihosting-config", "enable=on,target=native",
		"-kernel", "/crate/fw.elf",
	}, step.Argv)
	assert.Equal(t, runner.KindEmulate, step.Kind)
	assert.Zero(t, step.Timeout)
}

func TestFlashUsesTimeout(t *testing.T) {
	cfg := config.Defaults()
	cfg.HIL.Chip = "nRF52840_xxAA"

	ctrl := gomock.NewController(t)
	mock := mocks.NewMockRunner(ctrl)
	mock.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, step runner.Step) (*runner.Outcome, error) {
			assert.Equal(t, []string{"probe-run", "--chip", "nRF52840_xxAA", "/fw.elf"}, step.Argv)
			assert.Equal(t, 10*time.Minute, step.Timeout)
			return &runner.Outcome{Step: step, ExitCode: runner.ExitCodeTimeout, TimedOut: true},
				&runner.ExitError{Step: step.Name, Code: runner.ExitCodeTimeout, TimedOut: true}
		})

	w := New(mock, cfg, "/")
	err := w.Flash(context.Background(), "/fw.elf")
	require.Error(t, err)
	assert.Equal(t, runner.ExitCodeTimeout, runner.ExitCode(err))
	require.Len(t, w.Outcomes(), 1)
	assert.True(t, w.Outcomes()[0].TimedOut)
}

func TestEmulateWithDryRun(t *testing.T) {
	rec := runner.NewDryRun(nil)
	w := New(rec, config.Defaults(), "/crate")

	require.NoError(t, w.Emulate(context.Background(), "/crate/fw.elf"))
	require.Len(t, rec.Steps(), 1)
	assert.Equal(t, "qemu:fw.elf", rec.Steps()[0].Name)
}
