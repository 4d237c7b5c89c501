package endpoint

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

// StaticFileRenderer serves a single file. The file must implement
// io.ReadSeeker; it is closed by the EndpointHandler after rendering.
type StaticFileRenderer struct {
	File fs.File
	// CacheControl, if set, is written as the Cache-Control header.
	CacheControl string
}

// Close closes the underlying file.
func (sfr *StaticFileRenderer) Close() error {
	if sfr.File != nil {
		return sfr.File.Close()
	}
	return nil
}

// Render streams the file with http.ServeContent, which handles
// Content-Type detection, range requests and conditional requests.
func (sfr *StaticFileRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	if sfr.File == nil {
		return http.ErrMissingFile
	}

	var (
		name    string
		modTime time.Time
	)
	if info, err := sfr.File.Stat(); err == nil {
		name = info.Name()
		modTime = info.ModTime()
	}

	rs, ok := sfr.File.(io.ReadSeeker)
	if !ok {
		return http.ErrNotSupported
	}
	if sfr.CacheControl != "" {
		w.Header().Set("Cache-Control", sfr.CacheControl)
	}

	http.ServeContent(w, r, name, modTime, rs)
	return nil
}

// AssetParams is the wildcard path below the assets mount.
type AssetParams struct {
	Path string `path:"path"`
}

// Assets serves the built dashboard bundle: hashed asset files, and the
// single-page index document for every application route.
//
// Mount Endpoint on "/assets/{path...}"; call Index from page routes.
type Assets struct {
	FS fs.FS
}

// Endpoint serves one file below the assets directory. Directories are not
// listed.
func (a *Assets) Endpoint(w http.ResponseWriter, r *http.Request, params AssetParams) (Renderer, error) {
	if a == nil || a.FS == nil {
		return nil, Error(http.StatusInternalServerError, "assets: nil FS", nil)
	}

	p := path.Clean("/" + params.Path)
	if p == "/" {
		return nil, Error(http.StatusNotFound, "not found", nil)
	}
	p = path.Join("assets", strings.TrimPrefix(p, "/"))

	return a.open(p, "public, max-age=31536000, immutable")
}

// Index returns a renderer for index.html. The document is never cached so a
// new deployment is picked up on the next navigation.
func (a *Assets) Index() (Renderer, error) {
	if a == nil || a.FS == nil {
		return nil, Error(http.StatusInternalServerError, "assets: nil FS", nil)
	}
	return a.open("index.html", "no-cache")
}

func (a *Assets) open(name, cacheControl string) (Renderer, error) {
	file, err := a.FS.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Error(http.StatusNotFound, "not found", err)
		}
		return nil, Error(http.StatusInternalServerError, "internal server error", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, Error(http.StatusInternalServerError, "internal server error", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, Error(http.StatusNotFound, "not found", fs.ErrNotExist)
	}
	return &StaticFileRenderer{File: file, CacheControl: cacheControl}, nil
}
