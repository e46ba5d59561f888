package plugin

import (
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
)

// Probe is a JS script exporting status(output) and/or version(output),
// used by manifest modules to interpret raw probe-command output. The VM
// is single-threaded; calls are serialised.
type Probe struct {
	path string

	mu      sync.Mutex
	vm      *goja.Runtime
	status  goja.Callable
	version goja.Callable
}

// LoadProbe compiles the script at path and resolves its exports. A probe
// exporting neither function is rejected.
func LoadProbe(path string) (*Probe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("probe: read %s: %w", path, err)
	}

	vm := goja.New()
	exports := vm.NewObject()
	module := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)

	if _, err := vm.RunString(string(data)); err != nil {
		return nil, fmt.Errorf("probe: execute %s: %w", path, err)
	}

	// CommonJS style: module.exports may have been reassigned wholesale.
	if v := module.Get("exports"); v != nil {
		exports = v.ToObject(vm)
	}

	p := &Probe{path: path, vm: vm}
	if fn := exports.Get("status"); fn != nil {
		if call, ok := goja.AssertFunction(fn); ok {
			p.status = call
		} else {
			return nil, fmt.Errorf("probe %s: status must be a function", path)
		}
	}
	if fn := exports.Get("version"); fn != nil {
		if call, ok := goja.AssertFunction(fn); ok {
			p.version = call
		} else {
			return nil, fmt.Errorf("probe %s: version must be a function", path)
		}
	}
	if p.status == nil && p.version == nil {
		return nil, fmt.Errorf("probe %s: exports neither status nor version", path)
	}
	return p, nil
}

// HasStatus reports whether the script exports status().
func (p *Probe) HasStatus() bool { return p.status != nil }

// HasVersion reports whether the script exports version().
func (p *Probe) HasVersion() bool { return p.version != nil }

// Status interprets raw status-command output into a service state string.
func (p *Probe) Status(output string) (string, error) {
	return p.callString(p.status, "status", output)
}

// Version extracts a version string from raw version-command output.
func (p *Probe) Version(output string) (string, error) {
	return p.callString(p.version, "version", output)
}

func (p *Probe) callString(fn goja.Callable, name, output string) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("probe %s: no %s function", p.path, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := fn(goja.Undefined(), p.vm.ToValue(output))
	if err != nil {
		return "", fmt.Errorf("probe %s: %s: %w", p.path, name, err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return "", nil
	}
	return result.String(), nil
}
