package gateway

import (
	"io"
	"net/http"
	"time"

	"github.com/eL1fe/assistants-gateway/internal/apierrors"
	"github.com/eL1fe/assistants-gateway/internal/gateway/dto"
	"github.com/eL1fe/assistants-gateway/internal/ids"
	"github.com/eL1fe/assistants-gateway/internal/types"
)

// maxUploadBytes bounds a single multipart file upload, per spec.md §4.5
// ("accept one file part plus purpose field; persist bytes verbatim").
const maxUploadBytes = 64 << 20 // 64MiB

func (g *Gateway) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, "malformed multipart body: "+err.Error()))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	part, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, "missing required \"file\" part").WithParam("file"))
		return
	}
	defer part.Close()

	purpose := r.FormValue("purpose")
	if purpose == "" {
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, "missing required \"purpose\" field").WithParam("purpose"))
		return
	}

	content, err := io.ReadAll(part)
	if err != nil {
		writeErr(w, apierrors.New(apierrors.KindInvalidRequest, "failed to read file contents"))
		return
	}

	f := types.File{
		ID: ids.New(ids.File), Filename: header.Filename, Bytes: int64(len(content)),
		Purpose: purpose, CreatedAt: time.Now().Unix(), Content: content,
	}
	created, err := g.store.CreateFile(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromFile(created))
}

func (g *Gateway) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, err := g.store.GetFile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromFile(f))
}

func (g *Gateway) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.store.DeleteFile(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.Deleted{ID: id, Object: "file.deleted", Deleted: true})
}

func (g *Gateway) handleListFiles(w http.ResponseWriter, r *http.Request) {
	p := parseListParams(r)
	page, err := g.store.ListFiles(r.Context(), p.Limit, p.Order, p.After, p.Before)
	if err != nil {
		writeErr(w, err)
		return
	}
	items := make([]dto.File, 0, len(page.Items))
	for _, f := range page.Items {
		items = append(items, dto.FromFile(f))
	}
	writeJSON(w, http.StatusOK, dto.NewList(items, page.HasMore, func(f dto.File) string { return f.ID }))
}

func (g *Gateway) handleFileContent(w http.ResponseWriter, r *http.Request) {
	f, err := g.store.GetFile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+f.Filename+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Content)
}
