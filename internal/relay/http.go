package relay

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/aniketmishra-0/SendIt/internal/logs"
)

// API is the REST surface over the store: upload, download, info, delete.
type API struct {
	store *Store
	log   logs.Logger
}

func NewAPI(store *Store, log logs.Logger) *API {
	return &API{store: store, log: log.Named("relay-api")}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/relay/upload", a.upload)
	mux.HandleFunc("GET /api/relay/download/{id}", a.download)
	mux.HandleFunc("GET /api/relay/info/{id}", a.info)
	mux.HandleFunc("DELETE /api/relay/{id}", a.delete)
}

type uploadResponse struct {
	FileMetadata
	DownloadURL string `json:"downloadUrl"`
}

func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > MaxFileSize {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}
	roomCode := r.URL.Query().Get("roomCode")
	compress := truthy(r.URL.Query().Get("compress"))

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "multipart body required", http.StatusBadRequest)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "bad multipart body", http.StatusBadRequest)
			return
		}
		if part.FormName() != "file" {
			continue
		}

		name := part.FileName()
		if name == "" {
			name = "file"
		}
		mimeType := part.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		meta, err := a.store.Save(part, name, mimeType, roomCode, r.ContentLength, compress)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
				return
			}
			a.log.Error("upload failed", logs.F("name", name), logs.F("err", err))
			http.Error(w, "upload failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, uploadResponse{
			FileMetadata: *meta,
			DownloadURL:  "/api/relay/download/" + meta.ID,
		})
		return
	}
	http.Error(w, "missing file part", http.StatusBadRequest)
}

func (a *API) download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	decompress := !strings.EqualFold(r.URL.Query().Get("decompress"), "false")

	rc, meta, err := a.store.Open(id, decompress)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	bodyCompressed := meta.Compressed && !decompress

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": meta.Name}))
	w.Header().Set("X-Original-Size", strconv.FormatInt(meta.OriginalSize, 10))
	w.Header().Set("X-Checksum", meta.Checksum)
	w.Header().Set("X-Compressed", strconv.FormatBool(bodyCompressed))
	length := meta.StoredSize
	if meta.Compressed && decompress {
		length = meta.OriginalSize // decompressed body is exactly the plaintext
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(w, rc, buf); err != nil {
		// Mid-stream failures (including a corrupt frame) can only be
		// reported by aborting; the client falls back to the checksum.
		a.log.Warn("download aborted", logs.F("id", id), logs.F("err", err))
	}
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.Meta(r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	a.store.Delete(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
