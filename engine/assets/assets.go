// Package assets indexes an asset directory, decodes textures, shaders and bitmap fonts from it
// and reports files that change on disk.
package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/cauldron/engine/assets/loaders"
	"github.com/spaghettifunk/cauldron/engine/core"
)

type AssetType int

const (
	AssetTypeNone AssetType = iota
	AssetTypeTexture
	AssetTypeShader
	AssetTypeFont
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeTexture:
		return "texture"
	case AssetTypeShader:
		return "shader"
	case AssetTypeFont:
		return "font"
	default:
		return "none"
	}
}

// Pending change notifications beyond this are dropped.
const changeBufferSize = 64

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	// Name is the slash separated path relative to the asset root.
	Name       string
	Path       string
	Type       AssetType
	ModTime    time.Time
	LastLoaded time.Time
	Removed    bool
}

type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	started  bool
	isClosed bool
	changes  chan AssetInfo
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create asset watcher")
	}

	return &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[AssetType]Loader),
		fsnotify: fsWatch,
		changes:  make(chan AssetInfo, changeBufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Initialize indexes every known asset under assetsDir and starts watching it recursively.
func (am *AssetManager) Initialize(assetsDir string) error {
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return errors.Wrapf(err, "invalid asset directory %s", assetsDir)
	}
	if s, err := os.Stat(root); err != nil || !s.IsDir() {
		return errors.Newf("asset directory %s does not exist", root)
	}
	am.root = root

	// Register loaders
	am.registerLoader(AssetTypeTexture, &loaders.ImageLoader{})
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(AssetTypeFont, &loaders.BitmapFontLoader{})

	if err := am.watchRecursive(root); err != nil {
		return err
	}
	am.started = true
	am.wg.Add(1)
	go am.start()

	core.LogInfo("indexed %d assets under %s", am.Count(), root)
	return nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// Changes delivers files that were created, modified or removed after Initialize.
func (am *AssetManager) Changes() <-chan AssetInfo {
	return am.changes
}

func (am *AssetManager) Root() string { return am.root }

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) Lookup(name string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[name]
	return info, ok
}

// Assets lists the indexed assets of one type sorted by name.
func (am *AssetManager) Assets(assetType AssetType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []AssetInfo
	for _, info := range am.assets {
		if info.Type == assetType {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load an asset using the appropriate loader
func (am *AssetManager) LoadAsset(name string, params interface{}) (interface{}, error) {
	am.mutex.Lock()
	asset, exists := am.assets[name]
	if !exists {
		am.mutex.Unlock()
		return nil, errors.Wrapf(ErrAssetNotFound, "%s", name)
	}
	asset.LastLoaded = time.Now()
	am.assets[name] = asset
	loader, loaderExists := am.loaders[asset.Type]
	am.mutex.Unlock()

	if !loaderExists {
		return nil, errors.Newf("no loader registered for asset type %s", asset.Type)
	}
	return loader.Load(asset.Path, params)
}

// LoadTexture decodes a texture asset. The texture desc is named after the asset.
func (am *AssetManager) LoadTexture(name string, params *loaders.ImageParams) (*loaders.Image, error) {
	if err := am.expectType(name, AssetTypeTexture); err != nil {
		return nil, err
	}
	res, err := am.LoadAsset(name, params)
	if err != nil {
		return nil, err
	}
	img := res.(*loaders.Image)
	img.Desc.Name = name
	return img, nil
}

func (am *AssetManager) LoadShader(name string) ([]uint32, error) {
	if err := am.expectType(name, AssetTypeShader); err != nil {
		return nil, err
	}
	res, err := am.LoadAsset(name, nil)
	if err != nil {
		return nil, err
	}
	return res.([]uint32), nil
}

func (am *AssetManager) LoadFont(name string) (*loaders.BitmapFont, error) {
	if err := am.expectType(name, AssetTypeFont); err != nil {
		return nil, err
	}
	res, err := am.LoadAsset(name, nil)
	if err != nil {
		return nil, err
	}
	return res.(*loaders.BitmapFont), nil
}

func (am *AssetManager) expectType(name string, assetType AssetType) error {
	info, ok := am.Lookup(name)
	if !ok {
		return errors.Wrapf(ErrAssetNotFound, "%s", name)
	}
	if info.Type != assetType {
		return errors.Newf("asset %s is a %s, not a %s", name, info.Type, assetType)
	}
	return nil
}

// Close stops watching. Changes is closed once the watcher goroutine exits.
func (am *AssetManager) Close() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()
	if !am.started {
		close(am.changes)
		return am.fsnotify.Close()
	}
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %v", err)

		case <-am.done:
			am.fsnotify.Close()
			close(am.changes)
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		s, err := os.Stat(e.Name)
		if err != nil {
			return
		}
		if s.IsDir() {
			if e.Op&fsnotify.Create != 0 {
				if err := am.watchRecursive(e.Name); err != nil {
					core.LogWarn("failed to watch %s: %v", e.Name, err)
				}
			}
			return
		}
		if info, ok := am.handleFileEvent(e.Name, s.ModTime()); ok {
			am.publish(info)
		}
	}
	// A removed path cannot be stat'ed, so it is dropped from both the index and the watch list.
	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if info, ok := am.removeAsset(e.Name); ok {
			am.publish(info)
		}
		_ = am.fsnotify.Remove(e.Name)
	}
}

func (am *AssetManager) publish(info AssetInfo) {
	select {
	case am.changes <- info:
	default:
		core.LogWarn("asset change queue full, dropping %s", info.Name)
	}
}

// watchRecursive adds all directories under the given one to the watch list and indexes files.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		am.handleFileEvent(walkPath, info.ModTime())
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string, modTime time.Time) (AssetInfo, bool) {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return AssetInfo{}, false
	}
	name, err := am.name(path)
	if err != nil {
		return AssetInfo{}, false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := AssetInfo{
		Name:       name,
		Path:       path,
		Type:       assetType,
		ModTime:    modTime,
		LastLoaded: am.assets[name].LastLoaded,
	}
	am.assets[name] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	name, err := am.name(path)
	if err != nil {
		return AssetInfo{}, false
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()

	info, ok := am.assets[name]
	if !ok {
		return AssetInfo{}, false
	}
	delete(am.assets, name)
	info.Removed = true
	return info, true
}

func (am *AssetManager) name(path string) (string, error) {
	rel, err := filepath.Rel(am.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func determineAssetType(path string) AssetType {
	switch filepath.Ext(path) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeTexture
	case ".spv":
		return AssetTypeShader
	case ".fnt":
		return AssetTypeFont
	default:
		return AssetTypeNone
	}
}
