// Package changeshttp exposes the change protocol over HTTP and provides the
// matching client-side dispatcher.
package changeshttp

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"annocore/internal/blob"
	"annocore/internal/core"
	"annocore/pkg/changes"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// MaxChangeBytes bounds the body of a submitted change.
const MaxChangeBytes = 32 << 20

// ReasonRateLimited is reported when a submission is refused by the limiter.
// The change was not applied.
const ReasonRateLimited domain.Reason = "RateLimited"

// Backend is the server side the handler talks to. *core.Service satisfies it.
type Backend interface {
	SubmitSerialized(ctx context.Context, raw []byte) (changes.Change, domain.Result, error)
	Feature(id string) (domain.Feature, string, error)
	Assembly(id string) (domain.Assembly, error)
	Assemblies() []domain.Assembly
	Features(assemblyID string) ([]domain.Feature, error)
	CheckResults(assemblyID string) ([]domain.CheckResult, error)
	Snapshot(assemblyID string) (domain.AssemblySnapshot, error)
}

// FileStore stores and serves sequence files. *core.FileService satisfies it.
type FileStore interface {
	Upload(ctx context.Context, r io.Reader, up core.FileUpload) (domain.File, error)
	Open(ctx context.Context, fileID string) (domain.File, io.ReadCloser, error)
	Stat(ctx context.Context, fileID string) (domain.File, blob.Info, error)
	URL(ctx context.Context, fileID string) (string, error)
}

var _ FileStore = (*core.FileService)(nil)

// SubmitResponse is the body of a successful submission.
type SubmitResponse struct {
	TypeName     string               `json:"typeName"`
	AssemblyID   string               `json:"assembly"`
	ChangedIDs   []string             `json:"changedIds"`
	Notification string               `json:"notification,omitempty"`
	CheckResults []domain.CheckResult `json:"checkResults,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// FeatureResponse is the body of GET /features/{id}.
type FeatureResponse struct {
	Feature    domain.Feature `json:"feature"`
	AssemblyID string         `json:"assembly"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message string        `json:"message"`
	Reason  domain.Reason `json:"reason"`
	Stale   *StaleDetail  `json:"stale,omitempty"`
}

// StaleDetail carries the fields of a domain.StaleChangeError.
type StaleDetail struct {
	Index     int    `json:"index"`
	FeatureID string `json:"featureId"`
	Field     string `json:"field"`
	Expected  any    `json:"expected"`
	Current   any    `json:"current"`
}

// Handler serves the change endpoint and the read endpoints clients use to
// load assemblies.
type Handler struct {
	Backend Backend
	Files   FileStore
	Logger  core.Logger

	limiter *rate.Limiter
	mux     *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSubmitLimit caps submissions at perSecond with the given burst. A
// non-positive rate leaves submissions unlimited.
func WithSubmitLimit(perSecond float64, burst int) HandlerOption {
	return func(h *Handler) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// NewHandler constructs a handler over b. files may be nil, in which case
// the /files routes answer 404.
func NewHandler(b Backend, files FileStore, logger core.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{Backend: b, Files: files, Logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	if h.Logger == nil {
		h.Logger = core.NewZapLogger(nil)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /changes/submitChange", h.handleSubmit)
	mux.HandleFunc("GET /features/{id}", h.handleFeature)
	mux.HandleFunc("GET /assemblies", h.handleAssemblies)
	mux.HandleFunc("GET /assemblies/{id}", h.handleAssembly)
	mux.HandleFunc("GET /assemblies/{id}/features", h.handleFeatures)
	mux.HandleFunc("GET /assemblies/{id}/checks", h.handleChecks)
	mux.HandleFunc("GET /assemblies/{id}/snapshot", h.handleSnapshot)
	mux.HandleFunc("POST /files", h.handleUpload)
	mux.HandleFunc("GET /files/{id}", h.handleDownload)
	mux.HandleFunc("HEAD /files/{id}", h.handleFileHead)
	mux.HandleFunc("GET /files/{id}/url", h.handleFileURL)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Backend == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "backend not configured", Reason: domain.ReasonInternal})
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Message: "too many submissions", Reason: ReasonRateLimited})
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxChangeBytes))
	if err != nil {
		h.writeError(w, errors.Mark(errors.Wrap(err, "read change body"), domain.ErrMalformedChange))
		return
	}
	c, res, err := h.Backend.SubmitSerialized(r.Context(), raw)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{
		TypeName:     c.TypeName(),
		AssemblyID:   c.AssemblyID(),
		ChangedIDs:   c.ChangedIDs(),
		Notification: c.Notification(),
		CheckResults: res.CheckResults,
		Warnings:     res.Warnings,
	})
}

func (h *Handler) handleFeature(w http.ResponseWriter, r *http.Request) {
	f, asm, err := h.Backend.Feature(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeatureResponse{Feature: f, AssemblyID: asm})
}

func (h *Handler) handleAssemblies(w http.ResponseWriter, _ *http.Request) {
	assemblies := h.Backend.Assemblies()
	if assemblies == nil {
		assemblies = []domain.Assembly{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assemblies": assemblies})
}

func (h *Handler) handleAssembly(w http.ResponseWriter, r *http.Request) {
	a, err := h.Backend.Assembly(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assembly": a})
}

func (h *Handler) handleFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := h.Backend.Features(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if features == nil {
		features = []domain.Feature{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": features})
}

func (h *Handler) handleChecks(w http.ResponseWriter, r *http.Request) {
	results, err := h.Backend.CheckResults(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []domain.CheckResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkResults": results})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Backend.Snapshot(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleUpload accepts a multipart form with a "metadata" field holding a
// JSON core.FileUpload and a "file" part holding the content.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.Files == nil {
		http.NotFound(w, r)
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		h.writeError(w, errors.Mark(errors.Wrap(err, "expected multipart upload"), domain.ErrMalformedChange))
		return
	}
	var meta *core.FileUpload
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.writeError(w, errors.Mark(errors.Wrap(err, "read upload"), domain.ErrMalformedChange))
			return
		}
		switch part.FormName() {
		case "metadata":
			meta, err = decodeUploadMetadata(part)
			if err != nil {
				h.writeError(w, err)
				return
			}
		case "file":
			if meta == nil {
				h.writeError(w, errors.Mark(errors.New("metadata must precede file"), domain.ErrMalformedChange))
				return
			}
			f, err := h.Files.Upload(r.Context(), part, *meta)
			if err != nil {
				h.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"file": f})
			return
		}
	}
	h.writeError(w, errors.Mark(errors.New("upload has no file part"), domain.ErrMalformedChange))
}

// handleDownload streams the stored content of a file.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if h.Files == nil {
		http.NotFound(w, r)
		return
	}
	f, rc, err := h.Files.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer rc.Close()
	setFileHeaders(w, f)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.Logger.Warn("file download interrupted", "file", f.ID, "error", err)
	}
}

func (h *Handler) handleFileHead(w http.ResponseWriter, r *http.Request) {
	if h.Files == nil {
		http.NotFound(w, r)
		return
	}
	f, info, err := h.Files.Stat(r.Context(), r.PathValue("id"))
	if err != nil {
		w.WriteHeader(StatusFor(domain.ReasonOf(err)))
		return
	}
	setFileHeaders(w, f)
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleFileURL(w http.ResponseWriter, r *http.Request) {
	if h.Files == nil {
		http.NotFound(w, r)
		return
	}
	u, err := h.Files.URL(r.Context(), r.PathValue("id"))
	if errors.Is(err, blob.ErrUnsupported) {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Message: err.Error(), Reason: domain.ReasonInternal})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": u})
}

func setFileHeaders(w http.ResponseWriter, f domain.File) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("ETag", strconv.Quote(f.Checksum))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
}

func decodeUploadMetadata(part *multipart.Part) (*core.FileUpload, error) {
	var up core.FileUpload
	if err := json.NewDecoder(part).Decode(&up); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode upload metadata"), domain.ErrMalformedChange)
	}
	return &up, nil
}

// StatusFor maps a failure reason to its HTTP status.
func StatusFor(reason domain.Reason) int {
	switch reason {
	case domain.ReasonFeatureNotFound, domain.ReasonAssemblyNotFound,
		domain.ReasonRefSeqNotFound, domain.ReasonFileNotFound:
		return http.StatusNotFound
	case domain.ReasonStaleChange, domain.ReasonAssemblyAlreadyExists, domain.ReasonDuplicateFeature:
		return http.StatusConflict
	case domain.ReasonInvalidRange, domain.ReasonParentCoordinateViolation:
		return http.StatusUnprocessableEntity
	case domain.ReasonUnknownChangeType, domain.ReasonMalformedChange:
		return http.StatusBadRequest
	case domain.ReasonUnknownOutcome:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the wire form of err.
func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Message: err.Error(), Reason: domain.ReasonOf(err)}
	var stale *domain.StaleChangeError
	if errors.As(err, &stale) {
		resp.Stale = &StaleDetail{
			Index:     stale.Index,
			FeatureID: stale.FeatureID,
			Field:     stale.Field,
			Expected:  stale.Expected,
			Current:   stale.Current,
		}
	}
	return resp
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := NewErrorResponse(err)
	status := StatusFor(resp.Reason)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "reason", string(resp.Reason), "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
