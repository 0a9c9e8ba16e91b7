package renderer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// TextureResizeFunction rewrites desc for a new resolution.
type TextureResizeFunction func(desc *metadata.TextureDesc, displayWidth, displayHeight, renderWidth, renderHeight uint32)

// Texture exclusively owns its GPUResource. Recreate swaps the allocation but keeps the
// Texture and GPUResource pointers valid.
type Texture struct {
	device       *Device
	desc         metadata.TextureDesc
	initialState metadata.ResourceState
	resource     *GPUResource
	resizeFn     TextureResizeFunction
	autoMips     bool
}

// CreateTexture allocates a texture tracked in initialState. Fresh images are moved from
// undefined contents into initialState ahead of the next graphics submission.
func (d *Device) CreateTexture(desc *metadata.TextureDesc, initialState metadata.ResourceState, resizeFn TextureResizeFunction) (*Texture, error) {
	core.Assert(desc.Width > 0 && desc.Height > 0, "texture %s has an empty extent", desc.Name)
	t := &Texture{
		device:       d,
		desc:         *desc,
		initialState: initialState,
		resizeFn:     resizeFn,
		autoMips:     desc.MipLevels == 0,
	}
	if t.desc.Name == "" {
		t.desc.Name = core.NewIdentifier("texture")
	}
	t.normalize()

	img, err := d.gpu.CreateImage(&t.desc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create texture %s", t.desc.Name)
	}
	t.resource = newTextureResource(&t.desc, img, initialState, true, resizeFn != nil)
	d.queueInitialTransition(t.resource, initialState)
	if resizeFn != nil {
		d.resize.addResizable(t)
	}
	return t, nil
}

func (t *Texture) normalize() {
	if t.desc.DepthOrArraySize == 0 {
		t.desc.DepthOrArraySize = 1
	}
	if t.autoMips {
		t.desc.MipLevels = t.desc.FullMipChain()
	}
}

func (t *Texture) Name() string { return t.desc.Name }

// Desc returns the description, MipLevels corrected when a full chain was requested.
func (t *Texture) Desc() metadata.TextureDesc           { return t.desc }
func (t *Texture) Resource() *GPUResource               { return t.resource }
func (t *Texture) InitialState() metadata.ResourceState { return t.initialState }
func (t *Texture) IsResizable() bool                    { return t.resizeFn != nil }

// CopyData uploads every mip of every slice through the upload heap on the copy queue and
// blocks until the texture is usable on the graphics queue. The texture ends in the state it
// was in before the call, or shader resource if that was CopyDest.
func (t *Texture) CopyData(ctx context.Context, block *metadata.TextureDataBlock) error {
	t.device.assertNotRenderThread(ctx, "Texture.CopyData")
	return t.device.uploadTexture(ctx, t.resource, block)
}

// Recreate allocates a new image from the current description and notifies resize listeners.
func (t *Texture) Recreate() error {
	if err := t.recreate(); err != nil {
		return err
	}
	t.device.resize.notify()
	return nil
}

func (t *Texture) recreate() error {
	t.normalize()
	img, err := t.device.gpu.CreateImage(&t.desc)
	if err != nil {
		return errors.Wrapf(err, "failed to recreate texture %s", t.desc.Name)
	}
	old := t.resource.image
	t.device.takePendingInit(t.resource)
	t.resource.textureDesc = t.desc
	t.resource.replace(img, nil, t.initialState)
	t.device.queueInitialTransition(t.resource, t.initialState)
	if old != nil {
		t.device.deferDestroy(old.Destroy)
	}
	return nil
}

// OnRenderingResolutionResize applies the resize function then recreates the texture.
func (t *Texture) OnRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight uint32) error {
	if err := t.onRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight); err != nil {
		return err
	}
	t.device.resize.notify()
	return nil
}

func (t *Texture) onRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight uint32) error {
	core.Assert(t.resizeFn != nil, "texture %s is not resizable", t.desc.Name)
	t.resizeFn(&t.desc, displayWidth, displayHeight, renderWidth, renderHeight)
	return t.recreate()
}

// Destroy releases the image once the GPU is done with it.
func (t *Texture) Destroy() {
	if t.resource == nil {
		return
	}
	t.device.resize.removeResizable(t)
	t.device.takePendingInit(t.resource)
	res := t.resource
	t.device.deferDestroy(res.destroy)
	t.resource = nil
}
