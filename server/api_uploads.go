package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var errBadFileName = errors.New("invalid file name")

// blobStore keeps uploaded files flat in one directory.
type blobStore struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
}

func newBlobStore(fsys afero.Fs, dir string, maxBytes int64) (*blobStore, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &blobStore{fs: fsys, dir: dir, maxBytes: maxBytes}, nil
}

// checkName rejects anything that is not a plain file name inside dir.
func checkName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return errBadFileName
	}
	return nil
}

func (b *blobStore) put(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	return afero.WriteFile(b.fs, filepath.Join(b.dir, name), data, 0o644)
}

func (b *blobStore) open(name string) (afero.File, os.FileInfo, error) {
	if err := checkName(name); err != nil {
		return nil, nil, err
	}
	f, err := b.fs.Open(filepath.Join(b.dir, name))
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		f.Close()
		return nil, nil, os.ErrNotExist
	}
	return f, fi, nil
}

// remove succeeds when the file is already gone.
func (b *blobStore) remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := b.fs.Remove(filepath.Join(b.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// sanitizeName keeps the last path element of a client file name and maps
// every byte outside [A-Za-z0-9._-] to '_'.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	clean = strings.TrimLeft(clean, ".")
	if clean == "" {
		return "file"
	}
	return clean
}

func storedName(cardID string, at time.Time, fileName string) string {
	return fmt.Sprintf("%s_%d_%s", sanitizeName(cardID), at.UnixMilli(), sanitizeName(fileName))
}

// originalName strips the "<cardId>_<millis>_" prefix of a stored name.
func originalName(stored string) string {
	parts := strings.SplitN(stored, "_", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return stored
}

// decodeFileData accepts plain base64 or a data URL.
func decodeFileData(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ";base64,")
		if i < 0 {
			return nil, errors.New("data url is not base64")
		}
		s = s[i+len(";base64,"):]
	}
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func detectMIME(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func (a *api) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"fileName"`
		FileData string `json:"fileData"`
		CardID   string `json:"cardId"`
	}
	// base64 inflates by 4/3, plus room for the other fields
	limit := a.blobs.maxBytes/3*4 + 64<<10
	if err := readJSONLimit(w, r, &req, limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, 413, "file too large")
			return
		}
		writeError(w, 400, "invalid payload")
		return
	}
	if req.FileName == "" || req.FileData == "" || req.CardID == "" {
		writeError(w, 400, "missing required fields")
		return
	}
	data, err := decodeFileData(req.FileData)
	if err != nil || len(data) == 0 {
		writeError(w, 400, "invalid file data")
		return
	}
	if int64(len(data)) > a.blobs.maxBytes {
		writeError(w, 413, "file too large")
		return
	}
	now := a.now()
	name := storedName(req.CardID, now, req.FileName)
	if err := a.blobs.put(name, data); err != nil {
		a.fail(w, "store upload", err, "")
		return
	}
	writeJSON(w, 201, map[string]any{
		"fileName":   req.FileName,
		"storedName": name,
		"size":       len(data),
		"mimeType":   detectMIME(req.FileName, data),
		"uploadedAt": stamp(now),
	})
}

func (a *api) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("fileName")
	f, fi, err := a.blobs.open(name)
	if errors.Is(err, errBadFileName) {
		writeError(w, 400, "invalid file name")
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, 404, "file not found")
		return
	}
	if err != nil {
		a.fail(w, "open upload", err, "")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": originalName(name)}))
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

func (a *api) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	err := a.blobs.remove(r.PathValue("fileName"))
	if errors.Is(err, errBadFileName) {
		writeError(w, 400, "invalid file name")
		return
	}
	if err != nil {
		a.fail(w, "delete upload", err, "")
		return
	}
	w.WriteHeader(204)
}

func (a *api) handleAttachmentsByCard(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.AttachmentsByCard(r.Context(), r.PathValue("cardId"))
	if err != nil {
		a.fail(w, "attachments by card", err, "")
		return
	}
	writeJSON(w, 200, items)
}
