package assets

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/assets/loaders"
)

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 60), A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeSPIRV(t *testing.T, path string, words ...uint32) {
	t.Helper()
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newManager(t *testing.T) (*AssetManager, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "textures"), 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(dir, "textures", "checker.png"), 8, 4)
	writeSPIRV(t, filepath.Join(dir, "fullscreen.vert.spv"), 0x07230203, 0x00010500, 0, 1)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	am, err := NewAssetManager()
	if err != nil {
		t.Fatalf("NewAssetManager: %v", err)
	}
	t.Cleanup(func() { _ = am.Close() })
	if err := am.Initialize(dir); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return am, dir
}

func TestAssetManagerIndexesKnownTypes(t *testing.T) {
	am, _ := newManager(t)
	if am.Count() != 2 {
		t.Fatalf("Count\nhave %d\nwant 2", am.Count())
	}
	info, ok := am.Lookup("textures/checker.png")
	if !ok || info.Type != AssetTypeTexture {
		t.Errorf("Lookup(textures/checker.png)\nhave %+v, %t\nwant texture", info, ok)
	}
	if shaders := am.Assets(AssetTypeShader); len(shaders) != 1 || shaders[0].Name != "fullscreen.vert.spv" {
		t.Errorf("shader assets\nhave %+v\nwant [fullscreen.vert.spv]", shaders)
	}
	if _, ok := am.Lookup("notes.txt"); ok {
		t.Error("unknown extensions must not be indexed")
	}
}

func TestAssetManagerLoadTextureWithMips(t *testing.T) {
	am, _ := newManager(t)
	img, err := am.LoadTexture("textures/checker.png", &loaders.ImageParams{GenerateMips: true})
	if err != nil {
		t.Fatalf("LoadTexture: %v", err)
	}
	if img.Desc.Name != "textures/checker.png" {
		t.Errorf("desc name\nhave %q\nwant textures/checker.png", img.Desc.Name)
	}
	if img.Desc.Width != 8 || img.Desc.Height != 4 || img.Desc.MipLevels != 4 {
		t.Fatalf("desc\nhave %dx%d mips %d\nwant 8x4 mips 4", img.Desc.Width, img.Desc.Height, img.Desc.MipLevels)
	}
	want := []int{8 * 4 * 4, 4 * 2 * 4, 2 * 1 * 4, 1 * 1 * 4}
	for mip, size := range want {
		if have := len(img.Block.Data[mip]); have != size {
			t.Errorf("mip %d size\nhave %d\nwant %d", mip, have, size)
		}
	}
	info, _ := am.Lookup("textures/checker.png")
	if info.LastLoaded.IsZero() {
		t.Error("LastLoaded not updated")
	}
}

func TestAssetManagerLoadShader(t *testing.T) {
	am, _ := newManager(t)
	code, err := am.LoadShader("fullscreen.vert.spv")
	if err != nil {
		t.Fatalf("LoadShader: %v", err)
	}
	if len(code) != 4 || code[0] != 0x07230203 || code[1] != 0x00010500 {
		t.Errorf("words\nhave %#x\nwant [0x7230203 0x10500 0x0 0x1]", code)
	}
}

func TestAssetManagerLoadErrors(t *testing.T) {
	am, _ := newManager(t)
	if _, err := am.LoadTexture("missing.png", nil); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("missing asset\nhave %v\nwant %v", err, ErrAssetNotFound)
	}
	if _, err := am.LoadShader("textures/checker.png"); err == nil {
		t.Error("loading a texture as a shader\nhave nil error\nwant error")
	}
	if err := newBareManager(t).Initialize(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Initialize of a missing directory\nhave nil error\nwant error")
	}
}

func newBareManager(t *testing.T) *AssetManager {
	t.Helper()
	am, err := NewAssetManager()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = am.Close() })
	return am
}

func TestAssetManagerReportsChanges(t *testing.T) {
	am, dir := newManager(t)
	writePNG(t, filepath.Join(dir, "textures", "new.png"), 2, 2)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case info := <-am.Changes():
			if info.Name != "textures/new.png" {
				continue
			}
			if info.Type != AssetTypeTexture || info.Removed {
				t.Errorf("change\nhave %+v\nwant texture created", info)
			}
			if _, ok := am.Lookup("textures/new.png"); !ok {
				t.Error("changed asset not indexed")
			}
			return
		case <-timeout:
			t.Fatal("no change reported for textures/new.png")
		}
	}
}

func TestAssetManagerCloseIsIdempotent(t *testing.T) {
	am, _ := newManager(t)
	if err := am.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := am.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-am.Changes(); ok {
		t.Error("Changes still open after Close")
	}
}
