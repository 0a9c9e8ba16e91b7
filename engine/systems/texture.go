package systems

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

const DefaultTextureName = "default"

const defaultTextureDimension = 256

type TextureSystemConfig struct {
	// The maximum number of textures that can be registered at once.
	MaxTextureCount uint32
}

// TextureState tracks where a streamed texture is in its upload.
type TextureState uint8

const (
	TextureStateLoading TextureState = iota
	TextureStateReady
	TextureStateFailed
)

type textureReference struct {
	texture     *renderer.Texture
	refCount    uint64
	autoRelease bool
	state       TextureState
	err         error
	done        chan struct{}
}

// TextureSystem hands out reference counted textures by name and streams their contents to the
// GPU on the job system. Until a texture is ready callers should bind the default texture.
type TextureSystem struct {
	config    TextureSystemConfig
	device    *renderer.Device
	jobSystem *JobSystem

	mutex          sync.Mutex
	defaultTexture *renderer.Texture
	registered     map[string]*textureReference
}

func NewTextureSystem(config *TextureSystemConfig, js *JobSystem, device *renderer.Device) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		return nil, errors.New("TextureSystemConfig.MaxTextureCount must be > 0")
	}
	return &TextureSystem{
		config:     *config,
		device:     device,
		jobSystem:  js,
		registered: make(map[string]*textureReference),
	}, nil
}

// Initialize creates the default checkerboard texture. ctx must not be the render thread.
func (ts *TextureSystem) Initialize(ctx context.Context) error {
	desc := metadata.Tex2DDesc(DefaultTextureName, metadata.FormatRGBA8Unorm, defaultTextureDimension, defaultTextureDimension, 1, 1, metadata.ResourceFlagsNone)
	tex, err := ts.device.CreateTexture(&desc, metadata.ResourceStateShaderResource, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create default texture")
	}
	block := &metadata.TextureDataBlock{Data: [][]byte{checkerboard(defaultTextureDimension)}}
	if err := tex.CopyData(ctx, block); err != nil {
		tex.Destroy()
		return errors.Wrap(err, "failed to upload default texture")
	}
	ts.defaultTexture = tex
	return nil
}

// checkerboard is a blue and white RGBA8 pattern of 16 by 16 texel tiles.
func checkerboard(dim uint32) []byte {
	pixels := make([]byte, dim*dim*4)
	for row := uint32(0); row < dim; row++ {
		for col := uint32(0); col < dim; col++ {
			i := (row*dim + col) * 4
			pixels[i+2], pixels[i+3] = 255, 255
			if (row/16)%2 == (col/16)%2 {
				pixels[i], pixels[i+1] = 255, 255
			}
		}
	}
	return pixels
}

func (ts *TextureSystem) DefaultTexture() *renderer.Texture { return ts.defaultTexture }

// Acquire returns the texture registered under desc.Name, creating it and queueing the upload of
// block when it is new. The reference count is incremented either way.
func (ts *TextureSystem) Acquire(desc *metadata.TextureDesc, block *metadata.TextureDataBlock, autoRelease bool) (*renderer.Texture, error) {
	if desc.Name == DefaultTextureName {
		core.LogWarn("Acquire called for the default texture, use DefaultTexture instead")
		return ts.defaultTexture, nil
	}

	ts.mutex.Lock()
	if ref, ok := ts.registered[desc.Name]; ok {
		ref.refCount++
		ts.mutex.Unlock()
		return ref.texture, nil
	}
	if uint32(len(ts.registered)) >= ts.config.MaxTextureCount {
		ts.mutex.Unlock()
		return nil, errors.Newf("texture system is full (%d textures), cannot load %s", ts.config.MaxTextureCount, desc.Name)
	}

	tex, err := ts.device.CreateTexture(desc, metadata.ResourceStateShaderResource, nil)
	if err != nil {
		ts.mutex.Unlock()
		return nil, err
	}
	ref := &textureReference{
		texture:     tex,
		refCount:    1,
		autoRelease: autoRelease,
		done:        make(chan struct{}),
	}
	ts.registered[desc.Name] = ref
	ts.mutex.Unlock()

	name := desc.Name
	err = ts.jobSystem.Submit(JobTask{
		Name: "upload " + name,
		Run: func(ctx context.Context) error {
			return tex.CopyData(ctx, block)
		},
		OnComplete: func() { ts.finish(ref, nil) },
		OnFailure:  func(err error) { ts.finish(ref, err) },
	})
	if err != nil {
		ts.finish(ref, err)
	}
	return tex, nil
}

func (ts *TextureSystem) finish(ref *textureReference, err error) {
	ts.mutex.Lock()
	if err != nil {
		ref.state = TextureStateFailed
		ref.err = err
	} else {
		ref.state = TextureStateReady
	}
	ts.mutex.Unlock()
	close(ref.done)
}

// State reports the upload state of a registered texture.
func (ts *TextureSystem) State(name string) (TextureState, error) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	ref, ok := ts.registered[name]
	if !ok {
		return TextureStateFailed, errors.Newf("texture %s is not registered", name)
	}
	return ref.state, ref.err
}

// Wait blocks until the upload of name finished and returns its error.
func (ts *TextureSystem) Wait(ctx context.Context, name string) error {
	ts.mutex.Lock()
	ref, ok := ts.registered[name]
	ts.mutex.Unlock()
	if !ok {
		return errors.Newf("texture %s is not registered", name)
	}
	select {
	case <-ref.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	return ref.err
}

// Release decrements the reference count. Auto released textures are destroyed when it reaches
// zero, once their upload has finished.
func (ts *TextureSystem) Release(name string) {
	if name == DefaultTextureName {
		return
	}
	ts.mutex.Lock()
	ref, ok := ts.registered[name]
	if !ok {
		ts.mutex.Unlock()
		core.LogWarn("release of unknown texture %s", name)
		return
	}
	if ref.refCount > 0 {
		ref.refCount--
	}
	if ref.refCount > 0 || !ref.autoRelease {
		ts.mutex.Unlock()
		return
	}
	delete(ts.registered, name)
	ts.mutex.Unlock()

	<-ref.done
	ref.texture.Destroy()
	core.LogDebug("texture %s released", name)
}

func (ts *TextureSystem) Count() int {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	return len(ts.registered)
}

// Shutdown destroys every registered texture. The job system must be drained first.
func (ts *TextureSystem) Shutdown() {
	ts.mutex.Lock()
	refs := ts.registered
	ts.registered = make(map[string]*textureReference)
	ts.mutex.Unlock()

	for _, ref := range refs {
		<-ref.done
		ref.texture.Destroy()
	}
	if ts.defaultTexture != nil {
		ts.defaultTexture.Destroy()
		ts.defaultTexture = nil
	}
}
