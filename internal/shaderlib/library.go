// Package shaderlib implements the Shader Library component (C2): it loads
// every compiled SPIR-V module under a directory, resolves function names to
// modules, and caches the pipeline-reflection and pipeline-layout objects
// built from them.
//
// Grounded on engine/renderer/shader/shader.go's shader struct/Shader
// interface pairing and NewShader constructor, and on
// cogentcore-core/egpu/shader.go's vk.ShaderModule compilation
// (vk.CreateShaderModule with a byte-to-uint32 code slice). Directory
// scanning is fanned out across a worker.DynamicWorkerPool the way
// scene.go's Update fans per-animator prep work across computePool.
package shaderlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/Carmen-Shannon/automation/tools/worker"
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/pipeline"
	"github.com/oxygraph/vkframegraph/internal/spirv"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vklog"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// entryPointName is the generic entry point SPIR-V compilers emit absent an
// explicit name (§4.1, §4.2: "the canonical entry-point name (main)").
const entryPointName = "main"

// loadedModule is one compiled .spv file's parsed reflection plus its
// realized vk.ShaderModule.
type loadedModule struct {
	stem      string
	reflect   *spirv.Module
	vkModule  vk.ShaderModule
	entryName string // effective entry point this module is indexed under
}

// library is the implementation of the Library interface.
type library struct {
	device vk.Device

	byFunction map[string]*loadedModule

	reflMu    sync.Mutex
	reflCache map[pipeline.PipelineKey]*pipeline.PipelineReflection

	setLayouts  *pipeline.DescriptorSetLayoutCache
	layouts     *pipeline.PipelineLayoutCache
}

// Library resolves shader function names to parsed SPIR-V modules and caches
// the derived pipeline reflections and pipeline layouts built from them.
type Library interface {
	// ModuleFor returns the parsed module and the effective entry point name
	// for the given function.
	//
	// Parameters:
	//   - functionName: the requested shader entry point or file-stem name
	//
	// Returns:
	//   - *spirv.Module: the module declaring functionName
	//   - string: the entry point name to set active before reflecting
	//   - bool: false if no module declares functionName
	ModuleFor(functionName string) (*spirv.Module, string, bool)

	// VkModule returns the realized vk.ShaderModule backing functionName.
	//
	// Parameters:
	//   - functionName: the requested shader entry point or file-stem name
	//
	// Returns:
	//   - vk.ShaderModule: the shader module handle
	//   - bool: false if no module declares functionName
	VkModule(functionName string) (vk.ShaderModule, bool)

	// ReflectionFor returns the merged pipeline reflection for key, building
	// and caching it on first use.
	//
	// Parameters:
	//   - key: the graphics (vertex[+fragment]) or compute pipeline key
	//
	// Returns:
	//   - *pipeline.PipelineReflection: the merged reflection
	//   - error: set if a named function cannot be resolved or reflected
	ReflectionFor(key pipeline.PipelineKey) (*pipeline.PipelineReflection, error)

	// PipelineLayoutFor returns the vk.PipelineLayout built from key's
	// reflection, parameterized by the binding manager's current
	// dynamic-buffer bitmasks.
	//
	// Parameters:
	//   - key: the pipeline key
	//   - dynamicMasks: per-set bit masks of bindings currently treated as
	//     dynamic uniform/storage buffers
	//
	// Returns:
	//   - vk.PipelineLayout: the cached or newly built layout
	//   - error: set on a reflection or Vulkan object-creation failure
	PipelineLayoutFor(key pipeline.PipelineKey, dynamicMasks map[uint16]uint32) (vk.PipelineLayout, error)

	// SetLayoutFor returns the vk.DescriptorSetLayout backing the given set
	// of key's reflection under dynamicMask, the same cache instance
	// PipelineLayoutFor built the pipeline layout's descriptor-set layouts
	// from (so a descriptor set allocated against this layout is guaranteed
	// structurally compatible with the pipeline bound for key).
	//
	// Parameters:
	//   - key: the pipeline key
	//   - dynamicMask: the dynamic-buffer bitmask observed for this set
	//
	// Returns:
	//   - vk.DescriptorSetLayout: the cached or newly built layout
	//   - error: set on a reflection or Vulkan object-creation failure
	SetLayoutFor(key pipeline.PipelineKey, set uint16, dynamicMask uint32) (vk.DescriptorSetLayout, error)

	// Close destroys every vk.ShaderModule this library realized.
	Close()
}

var _ Library = &library{}

// New scans dir for compiled .spv modules, parses and reflects each one in
// parallel across a worker pool, and returns a Library ready to resolve
// function names.
//
// Parameters:
//   - device: the logical device shader modules and layouts are created on
//   - dir: the directory to recursively scan for *.spv files
//
// Returns:
//   - Library: the populated shader library
//   - error: set if the directory cannot be scanned or any module fails to
//     compile or parse
func New(device vk.Device, dir string) (Library, error) {
	paths, err := collectSpvPaths(dir)
	if err != nil {
		return nil, vkerr.NewInitError("shader library scan", err)
	}

	lib := &library{
		device:     device,
		byFunction: make(map[string]*loadedModule),
		reflCache:  make(map[pipeline.PipelineKey]*pipeline.PipelineReflection),
	}
	lib.setLayouts = pipeline.NewDescriptorSetLayoutCache(device)
	lib.layouts = pipeline.NewPipelineLayoutCache(device, lib.setLayouts)

	if len(paths) == 0 {
		return lib, nil
	}

	results := make([]*loadedModule, len(paths))
	errs := make([]error, len(paths))

	pool := worker.NewDynamicWorkerPool(len(paths), len(paths)+1, 5*time.Second)
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		idx, path := i, p
		pool.SubmitTask(worker.Task{
			ID: idx,
			Do: func() (any, error) {
				defer wg.Done()
				m, err := loadModule(device, path)
				if err != nil {
					errs[idx] = fmt.Errorf("%s: %w", path, err)
					return nil, nil
				}
				results[idx] = m
				return nil, nil
			},
		})
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, vkerr.NewInitError("shader library load", err)
		}
	}

	for _, m := range results {
		lib.index(m)
	}

	return lib, nil
}

func collectSpvPaths(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".spv") {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func loadModule(device vk.Device, path string) (*loadedModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	refl, err := spirv.Parse(bytesToWords(data))
	if err != nil {
		return nil, err
	}

	var vkModule vk.ShaderModule
	ret := vk.CreateShaderModule(device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(data)),
		PCode:    sliceUint32(data),
	}, nil, &vkModule)
	if vkutil.IsError(ret) {
		return nil, vkutil.NewError(ret)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &loadedModule{stem: stem, reflect: refl, vkModule: vkModule}, nil
}

// index indexes m under its file stem if its only entry point is the
// canonical "main" name, otherwise under each declared entry point name
// (§4.2).
func (l *library) index(m *loadedModule) {
	eps := m.reflect.EntryPoints()
	if len(eps) == 1 && eps[0].Name == entryPointName {
		indexed := *m
		indexed.entryName = entryPointName
		l.byFunction[m.stem] = &indexed
		return
	}
	for _, ep := range eps {
		indexed := *m
		indexed.entryName = ep.Name
		l.byFunction[ep.Name] = &indexed
	}
}

func (l *library) ModuleFor(functionName string) (*spirv.Module, string, bool) {
	m, ok := l.byFunction[functionName]
	if !ok {
		return nil, "", false
	}
	return m.reflect, m.entryName, true
}

func (l *library) VkModule(functionName string) (vk.ShaderModule, bool) {
	m, ok := l.byFunction[functionName]
	if !ok {
		return nil, false
	}
	return m.vkModule, true
}

func (l *library) ReflectionFor(key pipeline.PipelineKey) (*pipeline.PipelineReflection, error) {
	l.reflMu.Lock()
	if refl, ok := l.reflCache[key]; ok {
		l.reflMu.Unlock()
		return refl, nil
	}
	l.reflMu.Unlock()

	var stages []pipeline.StageModule
	if key.ComputeFunction != "" {
		sm, err := l.stageModule(key.ComputeFunction, vk.ShaderStageComputeBit)
		if err != nil {
			return nil, err
		}
		stages = append(stages, sm)
	} else {
		sm, err := l.stageModule(key.VertexFunction, vk.ShaderStageVertexBit)
		if err != nil {
			return nil, err
		}
		stages = append(stages, sm)
		if key.FragmentFunction != "" {
			sm, err := l.stageModule(key.FragmentFunction, vk.ShaderStageFragmentBit)
			if err != nil {
				return nil, err
			}
			stages = append(stages, sm)
		}
	}

	refl, err := pipeline.Build(stages)
	if err != nil {
		return nil, vkerr.NewReflectionError(fmt.Sprintf("building reflection for %s: %v", key, err))
	}

	l.reflMu.Lock()
	l.reflCache[key] = refl
	l.reflMu.Unlock()
	return refl, nil
}

func (l *library) stageModule(functionName string, stage vk.ShaderStageFlagBits) (pipeline.StageModule, error) {
	mod, entry, ok := l.ModuleFor(functionName)
	if !ok {
		return pipeline.StageModule{}, vkerr.NewReflectionError(fmt.Sprintf("function %q not found in shader library", functionName))
	}
	if err := mod.SetActiveEntryPoint(entry); err != nil {
		return pipeline.StageModule{}, vkerr.NewReflectionError(fmt.Sprintf("function %q: %v", functionName, err))
	}
	return pipeline.StageModule{Stage: stage, Module: mod}, nil
}

func (l *library) PipelineLayoutFor(key pipeline.PipelineKey, dynamicMasks map[uint16]uint32) (vk.PipelineLayout, error) {
	refl, err := l.ReflectionFor(key)
	if err != nil {
		return nil, err
	}
	return l.layouts.LayoutFor(key, refl, dynamicMasks)
}

func (l *library) SetLayoutFor(key pipeline.PipelineKey, set uint16, dynamicMask uint32) (vk.DescriptorSetLayout, error) {
	refl, err := l.ReflectionFor(key)
	if err != nil {
		return nil, err
	}
	return l.setLayouts.LayoutFor(set, refl.SetBindings(set), dynamicMask)
}

func (l *library) Close() {
	seen := make(map[vk.ShaderModule]bool)
	for _, m := range l.byFunction {
		if seen[m.vkModule] {
			continue
		}
		seen[m.vkModule] = true
		vk.DestroyShaderModule(l.device, m.vkModule, nil)
	}
	vklog.Debugf("shaderlib: destroyed %d shader modules", len(seen))
}

// sliceUint32 reinterprets a byte slice as its uint32 words, avoiding a copy
// the way cogentcore-core/egpu/shader.go's SliceUint32 does for
// vk.ShaderModuleCreateInfo.PCode.
func sliceUint32(data []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

func bytesToWords(data []byte) []uint32 {
	if len(data) == 0 {
		return nil
	}
	return sliceUint32(data)
}
