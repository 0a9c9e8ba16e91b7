package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// Image is a VkImage with its own memory. Swapchain images are wrapped without memory and
// are never destroyed here.
type Image struct {
	gpu    *GPU
	handle vk.Image
	memory vk.DeviceMemory
	desc   metadata.TextureDesc
	owned  bool
}

func imageUsage(desc *metadata.TextureDesc) vk.ImageUsageFlags {
	usage := vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	if desc.Flags&metadata.ResourceFlagsDenyShaderResource == 0 {
		usage |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowRenderTarget != 0 {
		usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowDepthStencil != 0 {
		usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowUnorderedAccess != 0 {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	return usage
}

func (g *GPU) CreateImage(desc *metadata.TextureDesc) (renderer.Image, error) {
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, errors.Newf("texture %q: format %s has no vulkan equivalent", desc.Name, desc.Format)
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  desc.Depth(),
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArraySize(),
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	switch desc.Dimension {
	case metadata.TextureDimension1D:
		info.ImageType = vk.ImageType1d
	case metadata.TextureDimension3D:
		info.ImageType = vk.ImageType3d
	case metadata.TextureDimensionCube:
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	var handle vk.Image
	if res := vk.CreateImage(g.device, &info, g.allocator, &handle); res != vk.Success {
		return nil, resultError(res, "failed to create image %q", desc.Name)
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(g.device, handle, &reqs)
	reqs.Deref()

	mem, err := g.allocate(reqs, renderer.MemoryGPUOnly)
	if err != nil {
		vk.DestroyImage(g.device, handle, g.allocator)
		return nil, errors.Wrapf(err, "image %q", desc.Name)
	}
	if res := vk.BindImageMemory(g.device, handle, mem, 0); res != vk.Success {
		vk.FreeMemory(g.device, mem, g.allocator)
		vk.DestroyImage(g.device, handle, g.allocator)
		return nil, resultError(res, "failed to bind memory of image %q", desc.Name)
	}
	return &Image{gpu: g, handle: handle, memory: mem, desc: *desc, owned: true}, nil
}

func (i *Image) Desc() metadata.TextureDesc { return i.desc }
func (i *Image) Native() interface{}        { return i.handle }

func (i *Image) Destroy() {
	if !i.owned || i.handle == vk.NullImage {
		return
	}
	vk.DestroyImage(i.gpu.device, i.handle, i.gpu.allocator)
	vk.FreeMemory(i.gpu.device, i.memory, i.gpu.allocator)
	i.handle = vk.NullImage
	i.memory = vk.NullDeviceMemory
}

// View is either an image view or a buffer range. Buffer views of every kind bind as storage or
// uniform buffer ranges, so no VkBufferView is needed.
type View struct {
	gpu      *GPU
	viewType metadata.ViewType

	imageView vk.ImageView
	image     *Image
	layout    vk.ImageLayout

	buffer *Buffer
	offset uint64
	size   uint64
}

func imageViewType(viewType metadata.ViewType, desc *metadata.TextureViewDesc) vk.ImageViewType {
	switch desc.Dimension {
	case metadata.ViewDimensionTexture1D:
		return vk.ImageViewType1d
	case metadata.ViewDimensionTexture1DArray:
		return vk.ImageViewType1dArray
	case metadata.ViewDimensionTexture2DArray:
		return vk.ImageViewType2dArray
	case metadata.ViewDimensionTexture3D:
		return vk.ImageViewType3d
	case metadata.ViewDimensionTextureCube:
		if viewType != metadata.ViewTypeTextureSRV {
			// Attachments and storage images address faces as layers.
			return vk.ImageViewType2dArray
		}
		if desc.ArraySize > 6 {
			return vk.ImageViewTypeCubeArray
		}
		return vk.ImageViewTypeCube
	default:
		return vk.ImageViewType2d
	}
}

func (g *GPU) CreateTextureView(img renderer.Image, viewType metadata.ViewType, desc *metadata.TextureViewDesc) (renderer.View, error) {
	image, ok := img.(*Image)
	if !ok {
		return nil, errors.Wrapf(errNotVulkan, "image %T", img)
	}
	if !viewType.IsTextureView() {
		return nil, errors.Newf("%s is not a texture view", viewType)
	}
	format := desc.Format
	if format == metadata.FormatUnknown {
		format = image.desc.Format
	}
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image.handle,
		ViewType: imageViewType(viewType, desc),
		Format:   vkFormat(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectMask(format),
			BaseMipLevel:   desc.BaseMip,
			LevelCount:     desc.MipCount,
			BaseArrayLayer: desc.FirstSlice,
			LayerCount:     desc.ArraySize,
		},
	}
	// Sampling a depth-stencil image reads depth only.
	if viewType == metadata.ViewTypeTextureSRV && format.HasStencil() {
		info.SubresourceRange.AspectMask = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}

	var handle vk.ImageView
	if res := vk.CreateImageView(g.device, &info, g.allocator, &handle); res != vk.Success {
		return nil, resultError(res, "failed to create %s view of %q", viewType, image.desc.Name)
	}
	v := &View{gpu: g, viewType: viewType, imageView: handle, image: image}
	switch viewType {
	case metadata.ViewTypeTextureSRV:
		v.layout = stateLayout(metadata.ResourceStateShaderResource, format)
	case metadata.ViewTypeTextureUAV:
		v.layout = vk.ImageLayoutGeneral
	}
	return v, nil
}

func (g *GPU) CreateBufferView(buf renderer.GPUBuffer, viewType metadata.ViewType, desc *metadata.BufferViewDesc) (renderer.View, error) {
	buffer, ok := buf.(*Buffer)
	if !ok {
		return nil, errors.Wrapf(errNotVulkan, "buffer %T", buf)
	}
	if !viewType.IsBufferView() {
		return nil, errors.Newf("%s is not a buffer view", viewType)
	}
	v := &View{gpu: g, viewType: viewType, buffer: buffer, offset: desc.Offset(), size: desc.Range()}
	if v.offset+v.size > buffer.Size() {
		return nil, errors.Newf("view [%d, %d) exceeds buffer %q of %d bytes", v.offset, v.offset+v.size, buffer.desc.Name, buffer.Size())
	}
	return v, nil
}

func (v *View) Native() interface{} {
	if v.imageView != vk.NullImageView {
		return v.imageView
	}
	return v.buffer.handle
}

func (v *View) Destroy() {
	if v.imageView != vk.NullImageView {
		vk.DestroyImageView(v.gpu.device, v.imageView, v.gpu.allocator)
		v.imageView = vk.NullImageView
	}
}

type Sampler struct {
	gpu    *GPU
	handle vk.Sampler
}

func (g *GPU) CreateSampler(desc *metadata.SamplerDesc) (renderer.Sampler, error) {
	filter, mip := samplerFilters(desc.Filter)
	info := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        filter,
		MinFilter:        filter,
		MipmapMode:       mip,
		AddressModeU:     addressMode(desc.AddressU),
		AddressModeV:     addressMode(desc.AddressV),
		AddressModeW:     addressMode(desc.AddressW),
		MipLodBias:       desc.MipLODBias,
		AnisotropyEnable: vk.False,
		MaxAnisotropy:    1,
		CompareEnable:    vk.False,
		CompareOp:        compareOp(desc.Comparison),
		MinLod:           desc.MinLOD,
		MaxLod:           desc.MaxLOD,
		BorderColor:      vk.BorderColorFloatTransparentBlack,
	}
	if desc.Filter == metadata.FilterAnisotropic && g.anisotropy {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = float32(desc.MaxAnisotropy)
	}
	if desc.UseComparison {
		info.CompareEnable = vk.True
	}
	var handle vk.Sampler
	if res := vk.CreateSampler(g.device, &info, g.allocator, &handle); res != vk.Success {
		return nil, resultError(res, "failed to create sampler")
	}
	return &Sampler{gpu: g, handle: handle}, nil
}

func (s *Sampler) Native() interface{} { return s.handle }

func (s *Sampler) Destroy() {
	if s.handle != vk.NullSampler {
		vk.DestroySampler(s.gpu.device, s.handle, s.gpu.allocator)
		s.handle = vk.NullSampler
	}
}
