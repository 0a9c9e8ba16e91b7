package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

type shaderStage struct {
	module vk.ShaderModule
	info   vk.PipelineShaderStageCreateInfo
}

// newShaderStage wraps SPIR-V code in a shader module and the stage info pointing at it.
func (g *GPU) newShaderStage(code []byte, stage vk.ShaderStageFlagBits, entryPoint string) (*shaderStage, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("SPIR-V code of %d bytes is not a whole number of words", len(code))
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    codeWords(code),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(g.device, &createInfo, g.allocator, &module); res != vk.Success {
		return nil, resultError(res, "failed to create shader module")
	}
	if entryPoint == "" {
		entryPoint = "main"
	}
	return &shaderStage{
		module: module,
		info: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  VulkanSafeString(entryPoint),
		},
	}, nil
}

func (g *GPU) destroyShaderStages(stages []*shaderStage) {
	for _, s := range stages {
		if s != nil && s.module != vk.NullShaderModule {
			vk.DestroyShaderModule(g.device, s.module, g.allocator)
		}
	}
}
