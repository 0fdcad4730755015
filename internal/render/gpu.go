//go:build !nogpu

package render

// Registers gg's wgpu accelerator. Without a usable Vulkan adapter the
// registration is skipped and gg keeps rasterizing on the CPU.
import _ "github.com/gogpu/gg/gpu"
