// Package wasm hosts widgets distributed as WASM modules.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/livetemplate/lessonview/internal/widget"
)

// A widget module must export:
//
//   - render() -> i32 (ptr to HTML, call get_result_len() after)
//   - get_result_len() -> i32 (length of last result)
//
// Optional:
//   - action(name_ptr i32, name_len i32, data_ptr i32, data_len i32) -> i32 (0=success)
//   - get_error() -> i32 and get_error_len() -> i32 (message for a failed action)
//   - free_result()
//
// The module is instantiated as a reactor: _start is never run. The
// interactive id is passed as LESSONVIEW_INTERACTIVE_ID in the environment.
const (
	wasmActionOffset = uint32(1024)
	wasmDataOffset   = uint32(2048)
)

// EnvInteractiveID is the environment variable carrying the widget identity.
const EnvInteractiveID = "LESSONVIEW_INTERACTIVE_ID"

var requiredExports = []string{"render", "get_result_len"}

// Host owns the wazero runtime shared by all WASM widgets.
type Host struct {
	runtime wazero.Runtime
}

// NewHost creates a runtime with WASI available.
func NewHost(ctx context.Context) (*Host, error) {
	r := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	return &Host{runtime: r}, nil
}

// Close releases the runtime and every instance created from it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Loader returns a widget loader that compiles the module at path on first
// use. Each factory call instantiates a fresh module.
func (h *Host) Loader(name, path string) widget.Loader {
	return func(ctx context.Context) (widget.Factory, error) {
		wasmBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read WASM file %s: %w", path, err)
		}

		compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to compile WASM module %s: %w", path, err)
		}

		exports := compiled.ExportedFunctions()
		for _, fn := range requiredExports {
			if _, ok := exports[fn]; !ok {
				compiled.Close(ctx)
				return nil, fmt.Errorf("WASM module %s missing required export '%s'", path, fn)
			}
		}

		log.Printf("[Widget] Compiled WASM widget %q from %s", name, path)
		return func(ctx context.Context, props widget.Props) (widget.Widget, error) {
			return h.instantiate(ctx, name, path, compiled, props)
		}, nil
	}
}

func (h *Host) instantiate(ctx context.Context, name, path string, compiled wazero.CompiledModule, props widget.Props) (*Instance, error) {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithArgs(name).
		WithEnv(EnvInteractiveID, props.InteractiveID).
		WithStartFunctions()

	mod, err := h.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate WASM module %s: %w", path, err)
	}

	return &Instance{
		name:           name,
		path:           path,
		module:         mod,
		renderFn:       mod.ExportedFunction("render"),
		getResultLenFn: mod.ExportedFunction("get_result_len"),
		freeResultFn:   mod.ExportedFunction("free_result"),
		actionFn:       mod.ExportedFunction("action"),
		getErrorFn:     mod.ExportedFunction("get_error"),
		getErrorLenFn:  mod.ExportedFunction("get_error_len"),
	}, nil
}

// Instance is one mounted WASM widget.
type Instance struct {
	name   string
	path   string
	module api.Module
	mu     sync.Mutex

	renderFn       api.Function
	getResultLenFn api.Function
	freeResultFn   api.Function
	actionFn       api.Function
	getErrorFn     api.Function
	getErrorLenFn  api.Function
}

var (
	_ widget.Widget        = (*Instance)(nil)
	_ widget.ActionHandler = (*Instance)(nil)
)

// Render calls the module's render export and returns its output as HTML.
func (w *Instance) Render(ctx context.Context) (template.HTML, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	results, err := w.renderFn.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("WASM render failed [%s]: %w", w.path, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("WASM render returned no pointer [%s]", w.path)
	}
	ptr := uint32(results[0])

	lenResults, err := w.getResultLenFn.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("WASM get_result_len failed [%s]: %w", w.path, err)
	}
	if len(lenResults) == 0 {
		return "", fmt.Errorf("WASM get_result_len returned no value [%s]", w.path)
	}
	n := uint32(lenResults[0])
	if n == 0 {
		return "", nil
	}

	mem := w.module.Memory()
	if mem == nil {
		return "", fmt.Errorf("WASM module has no memory export [%s]", w.path)
	}
	out, ok := mem.Read(ptr, n)
	if !ok {
		return "", fmt.Errorf("failed to read WASM memory at ptr=%d len=%d", ptr, n)
	}
	html := template.HTML(string(out))

	if w.freeResultFn != nil {
		_, _ = w.freeResultFn.Call(ctx)
	}
	return html, nil
}

// HandleAction forwards a user action to the module's action export.
func (w *Instance) HandleAction(ctx context.Context, action string, data json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.actionFn == nil {
		return fmt.Errorf("WASM widget %q does not handle actions", w.name)
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	mem := w.module.Memory()
	if mem == nil {
		return fmt.Errorf("WASM module has no memory export [%s]", w.path)
	}
	actionBytes := []byte(action)
	if uint32(len(actionBytes)) > wasmDataOffset-wasmActionOffset {
		return fmt.Errorf("action name too long for WASM widget %q", w.name)
	}
	if !mem.Write(wasmActionOffset, actionBytes) {
		return fmt.Errorf("failed to write action to WASM memory [%s]", w.path)
	}
	if !mem.Write(wasmDataOffset, data) {
		return fmt.Errorf("failed to write data to WASM memory [%s]", w.path)
	}

	results, err := w.actionFn.Call(ctx,
		uint64(wasmActionOffset), uint64(len(actionBytes)),
		uint64(wasmDataOffset), uint64(len(data)))
	if err != nil {
		return fmt.Errorf("WASM action failed [%s]: %w", w.path, err)
	}
	if len(results) > 0 && results[0] != 0 {
		if msg, ok := w.lastError(ctx, mem); ok {
			return fmt.Errorf("WASM action error [%s]: %s", w.path, msg)
		}
		return fmt.Errorf("WASM action returned error code %d [%s]", results[0], w.path)
	}
	return nil
}

func (w *Instance) lastError(ctx context.Context, mem api.Memory) (string, bool) {
	if w.getErrorFn == nil || w.getErrorLenFn == nil {
		return "", false
	}
	ptrs, err := w.getErrorFn.Call(ctx)
	if err != nil || len(ptrs) == 0 {
		return "", false
	}
	lens, err := w.getErrorLenFn.Call(ctx)
	if err != nil || len(lens) == 0 {
		return "", false
	}
	b, ok := mem.Read(uint32(ptrs[0]), uint32(lens[0]))
	return string(b), ok
}

// Close releases the module instance.
func (w *Instance) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.module.Close(ctx)
}
