package plugin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/arclamp/ingestd/internal/config"
)

// envBaseConfigDir, envBaseDataDir, envHostHomeDir, and envHostOS are the
// fixed environment variable names injected into every plugin sandbox
// (spec §6), alongside each user-settings key as its own env var.
const (
	envBaseConfigDir = "BASE_CONFIG_DIR"
	envBaseDataDir   = "BASE_DATA_DIR"
	envHostHomeDir   = "HOST_HOME_DIR"
	envHostOS        = "HOST_OS"
)

// Sandbox is a wazero-backed WASM module instance, the direct Go-ecosystem
// analogue of the original's wasmer+WASI sandbox: one compiled module per
// plugin, its own mapped-in data directory, and a pair of pipes standing in
// for the plugin's stdin/stdout.
type Sandbox struct {
	runtime wazero.Runtime
	module  wazero.CompiledModule
	mod     apiModule

	fs afero.Fs

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	reqW io.Writer      // host writes plugin requests here (-> stdinW)
	resR *bufio.Reader  // host reads plugin responses here (<- stdoutR)
}

// apiModule is the subset of wazero's api.Module this package calls,
// narrowed so tests can substitute a fake without pulling in a real runtime.
type apiModule interface {
	ExportedFunction(name string) interface {
		Call(ctx context.Context, params ...uint64) ([]uint64, error)
	}
	Close(ctx context.Context) error
}

// buildEnv assembles the plugin sandbox environment variables: the four
// fixed host-location vars plus one entry per user setting.
func buildEnv(home config.Dirs, settings map[string]string) map[string]string {
	env := map[string]string{
		envBaseConfigDir: home.ConfigDir,
		envBaseDataDir:   home.DataDir,
		envHostHomeDir:   home.HomeDir,
		envHostOS:        runtime.GOOS,
	}
	for k, v := range settings {
		env[k] = v
	}
	return env
}

// NewSandbox compiles wasmBytes, mounts cfg.DataDir as the plugin's
// sandboxed filesystem root via afero, wires stdin/stdout to pipes for the
// wire protocol, and instantiates the module. WASI is registered so
// standard library plugin code (written in any WASI-targeting language)
// runs unmodified, mirroring the original's WasiState setup.
func NewSandbox(ctx context.Context, cfg Config, wasmBytes []byte, home config.Dirs) (*Sandbox, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("plugin sandbox: create data dir %q: %w", cfg.DataDir, err)
	}

	// CloseOnContextDone lets a Call's context deadline actually abort a hung plugin.
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("plugin sandbox: instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("plugin sandbox: compile module: %w", err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	modCfg := wazero.NewModuleConfig().
		WithName(cfg.Name).
		WithStdin(stdinR).
		WithStdout(stdoutW).
		WithStartFunctions() // suppress implicit _start; the host invokes it explicitly

	for k, v := range buildEnv(home, cfg.UserSettings) {
		modCfg = modCfg.WithEnv(k, v)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("plugin sandbox: instantiate %q: %w", cfg.Name, err)
	}

	return &Sandbox{
		runtime: rt,
		module:  compiled,
		mod:     wazeroModuleAdapter{mod},
		fs:      afero.NewBasePathFs(afero.NewOsFs(), filepath.Clean(cfg.DataDir)),
		stdinR:  stdinR, stdinW: stdinW,
		stdoutR: stdoutR, stdoutW: stdoutW,
		reqW: stdinW,
		resR: bufio.NewReader(stdoutR),
	}, nil
}

// Call invokes an exported function by name with no arguments, the shape
// every plugin export (_start, update, search_filter) uses. ctx bounds the
// call: a deadline on ctx aborts the module (WithCloseOnContextDone) rather
// than letting a hung plugin block its caller forever (spec §9.1).
func (s *Sandbox) Call(ctx context.Context, funcName string) error {
	fn := s.mod.ExportedFunction(funcName)
	if fn == nil {
		return fmt.Errorf("plugin sandbox: no exported function %q", funcName)
	}
	_, err := fn.Call(ctx)
	return err
}

// WriteRequest serializes v onto the plugin's stdin pipe.
func (s *Sandbox) WriteRequest(v any) error { return WriteMessage(s.reqW, v) }

// ReadResponse reads and decodes one record from the plugin's stdout pipe.
func (s *Sandbox) ReadResponse() (any, error) { return ReadMessage(s.resR) }

// Close tears down the module and runtime.
func (s *Sandbox) Close() error {
	ctx := context.Background()
	s.stdinW.Close()
	s.stdoutW.Close()
	err := s.mod.Close(ctx)
	s.runtime.Close(ctx)
	return err
}

// wazeroModuleAdapter narrows wazero's api.Module to apiModule so the rest
// of this package depends on an interface, not the concrete wazero type.
type wazeroModuleAdapter struct{ m api.Module }

func (w wazeroModuleAdapter) Close(ctx context.Context) error { return w.m.Close(ctx) }

func (w wazeroModuleAdapter) ExportedFunction(name string) interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
} {
	if f := w.m.ExportedFunction(name); f != nil {
		return f
	}
	return nil
}
