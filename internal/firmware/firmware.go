// Package firmware inspects Nordic DFU distribution packages (.zip) before
// they are handed to an update engine.
package firmware

import (
	"archive/zip"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// manifestName is the manifest entry of a DFU package.
const manifestName = "manifest.json"

// ErrNoManifest is returned for zip files without a DFU manifest.
var ErrNoManifest = errors.New("firmware: package has no manifest.json")

// Image is one firmware image listed in the manifest.
type Image struct {
	Kind    string // "application", "bootloader", "softdevice" or "softdevice_bootloader"
	BinFile string
	DatFile string
}

// Package describes a DFU distribution package on disk.
type Package struct {
	Path   string
	Size   int64
	Digest string // hex BLAKE2b-256 of the whole file
	Images []Image
}

// Locator returns the file:// URI form the engines accept.
func (p *Package) Locator() string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p.Path)}).String()
}

// Parts is the number of transfer parts. Legacy DFU sends the softdevice
// and bootloader separately from the application.
func (p *Package) Parts() int {
	if len(p.Images) == 0 {
		return 1
	}
	return len(p.Images)
}

// Resolve turns a firmware locator (a file:// URI or a plain path, with an
// optional leading ~) into an absolute path.
func Resolve(locator string) (string, error) {
	if locator == "" {
		return "", errors.New("firmware: empty locator")
	}

	path := locator
	if strings.Contains(locator, "://") {
		u, err := url.Parse(locator)
		if err != nil {
			return "", fmt.Errorf("firmware: parse locator: %w", err)
		}
		if u.Scheme != "file" {
			return "", fmt.Errorf("firmware: unsupported locator scheme %q", u.Scheme)
		}
		path = filepath.FromSlash(u.Path)
	} else if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("firmware: expand home: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("firmware: resolve %s: %w", path, err)
	}
	return abs, nil
}

// Open resolves locator, checks that it is a DFU package and returns its
// description.
func Open(locator string) (*Package, error) {
	path, err := Resolve(locator)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("firmware: %s is a directory", path)
	}

	digest, err := Digest(path)
	if err != nil {
		return nil, err
	}

	images, err := readManifest(path)
	if err != nil {
		return nil, err
	}

	return &Package{
		Path:   path,
		Size:   info.Size(),
		Digest: digest,
		Images: images,
	}, nil
}

// Digest returns the hex BLAKE2b-256 digest of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("firmware: open: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("firmware: digest: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("firmware: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type manifestEntry struct {
	BinFile string `json:"bin_file"`
	DatFile string `json:"dat_file"`
}

type manifestFile struct {
	Manifest map[string]manifestEntry `json:"manifest"`
}

func readManifest(path string) ([]Image, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("firmware: open package: %w", err)
	}
	defer zr.Close()

	entries := make(map[string]bool, len(zr.File))
	var manifest *zip.File
	for _, f := range zr.File {
		entries[f.Name] = true
		if f.Name == manifestName {
			manifest = f
		}
	}
	if manifest == nil {
		return nil, ErrNoManifest
	}

	rc, err := manifest.Open()
	if err != nil {
		return nil, fmt.Errorf("firmware: open manifest: %w", err)
	}
	defer rc.Close()

	var mf manifestFile
	if err := json.NewDecoder(rc).Decode(&mf); err != nil {
		return nil, fmt.Errorf("firmware: parse manifest: %w", err)
	}
	if len(mf.Manifest) == 0 {
		return nil, errors.New("firmware: manifest lists no images")
	}

	images := make([]Image, 0, len(mf.Manifest))
	for kind, e := range mf.Manifest {
		if e.BinFile == "" || !entries[e.BinFile] {
			return nil, fmt.Errorf("firmware: %s image %q missing from package", kind, e.BinFile)
		}
		if e.DatFile != "" && !entries[e.DatFile] {
			return nil, fmt.Errorf("firmware: %s init packet %q missing from package", kind, e.DatFile)
		}
		images = append(images, Image{Kind: kind, BinFile: e.BinFile, DatFile: e.DatFile})
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Kind < images[j].Kind })
	return images, nil
}
