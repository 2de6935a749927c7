package changeshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"annocore/internal/core"
	"annocore/pkg/changes"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

// Client talks to a Handler. It implements core.Dispatcher, so a Manager can
// run against a remote server.
type Client struct {
	base string
	http *http.Client
}

var _ core.Dispatcher = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch submits c. When the request fails before a decodable answer
// arrives the change may or may not have been applied; that error is marked
// with domain.ErrUnknownOutcome.
func (c *Client) Dispatch(ctx context.Context, ch changes.Change) (domain.Result, error) {
	raw, err := changes.Encode(ch)
	if err != nil {
		return domain.Result{}, err
	}
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/changes/submitChange", "application/json", bytes.NewReader(raw), &resp, true); err != nil {
		return domain.Result{}, err
	}
	return domain.Result{CheckResults: resp.CheckResults, Warnings: resp.Warnings}, nil
}

// Fetch returns the server's snapshot of an assembly.
func (c *Client) Fetch(ctx context.Context, assemblyID string) (domain.AssemblySnapshot, error) {
	var snap domain.AssemblySnapshot
	err := c.do(ctx, http.MethodGet, "/assemblies/"+url.PathEscape(assemblyID)+"/snapshot", "", nil, &snap, false)
	return snap, err
}

// Feature returns one feature and the id of its assembly.
func (c *Client) Feature(ctx context.Context, id string) (domain.Feature, string, error) {
	var resp FeatureResponse
	err := c.do(ctx, http.MethodGet, "/features/"+url.PathEscape(id), "", nil, &resp, false)
	return resp.Feature, resp.AssemblyID, err
}

// Assemblies lists every assembly on the server.
func (c *Client) Assemblies(ctx context.Context) ([]domain.Assembly, error) {
	var resp struct {
		Assemblies []domain.Assembly `json:"assemblies"`
	}
	err := c.do(ctx, http.MethodGet, "/assemblies", "", nil, &resp, false)
	return resp.Assemblies, err
}

// CheckResults returns the check results of an assembly.
func (c *Client) CheckResults(ctx context.Context, assemblyID string) ([]domain.CheckResult, error) {
	var resp struct {
		CheckResults []domain.CheckResult `json:"checkResults"`
	}
	err := c.do(ctx, http.MethodGet, "/assemblies/"+url.PathEscape(assemblyID)+"/checks", "", nil, &resp, false)
	return resp.CheckResults, err
}

// Upload sends a sequence file and its refSeq index.
func (c *Client) Upload(ctx context.Context, r io.Reader, up core.FileUpload) (domain.File, error) {
	meta, err := json.Marshal(up)
	if err != nil {
		return domain.File{}, errors.Wrap(err, "encode upload metadata")
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUpload(mw, meta, up.Name, r)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	var resp struct {
		File domain.File `json:"file"`
	}
	err = c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), pr, &resp, false)
	_ = pr.Close()
	return resp.File, err
}

// Download opens the stored content of a file. The caller closes the reader.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	path := "/files/" + url.PathEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", path)
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	defer resp.Body.Close()
	var e ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
		return nil, errors.Newf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil, decodeError(e)
}

// FileURL returns a direct download URL for a file when the server's blob
// backend can sign one.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/url", "", nil, &resp, false)
	return resp.URL, err
}

func writeUpload(mw *multipart.Writer, meta []byte, name string, r io.Reader) error {
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any, mutating bool) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return lost(mutating, errors.Wrapf(err, "%s %s", method, path))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return lost(mutating, errors.Wrapf(err, "read %s response", path))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return lost(mutating, errors.Wrapf(err, "decode %s response", path))
		}
		return nil
	}

	var e ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Message == "" {
		// a proxy or crashed server answered; the change may have landed
		return lost(mutating, errors.Newf("%s %s: unexpected status %d", method, path, resp.StatusCode))
	}
	return decodeError(e)
}

// lost marks err as an unknown outcome for mutating requests. Reads stay
// plain errors.
func lost(mutating bool, err error) error {
	if mutating {
		return errors.Mark(err, domain.ErrUnknownOutcome)
	}
	return err
}

func decodeError(e ErrorResponse) error {
	if e.Stale != nil {
		return domain.StaleChange(e.Stale.Index, e.Stale.FeatureID, e.Stale.Field, e.Stale.Expected, e.Stale.Current)
	}
	return domain.ErrorForReason(e.Reason, e.Message)
}
