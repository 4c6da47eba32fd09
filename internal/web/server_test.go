package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/binuengoor/Image-Optimizer-for-Web/internal/config"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/converter"
)

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.InputDirectory = t.TempDir()
	cfg.OutputDirectory = t.TempDir()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	log.SetOutput(io.Discard)

	conv := converter.NewDefaultConverter(log)
	return NewServer(cfg, log, conv), cfg
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type uploadPart struct {
	name    string
	content []byte
}

func multipartBody(t *testing.T, parts []uploadPart, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile("images", p.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(p.content); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return body, mw.FormDataContentType()
}

type convertResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Data    []FileReport `json:"data"`
}

func TestConvertEndpoint(t *testing.T) {
	srv, cfg := newTestServer(t)

	body, contentType := multipartBody(t,
		[]uploadPart{
			{name: "photo.png", content: pngBytes(t, 40, 30)},
			{name: "notes.txt", content: []byte("not an image at all")},
		},
		map[string]string{"preset": "balanced"},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp convertResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response not successful: %s", resp.Error)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(resp.Data))
	}

	good := resp.Data[0]
	if !good.Success {
		t.Fatalf("png upload failed: %s", good.Error)
	}
	if good.OutputName != "photo.webp" {
		t.Errorf("output name = %s, want photo.webp", good.OutputName)
	}
	if good.DownloadURL != "/download/photo.webp" {
		t.Errorf("download url = %s", good.DownloadURL)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDirectory, "photo.webp")); err != nil {
		t.Errorf("output file missing: %v", err)
	}

	bad := resp.Data[1]
	if bad.Success {
		t.Error("text upload reported success")
	}
	if bad.Error == "" {
		t.Error("text upload missing error message")
	}

	// Staging directories are removed once the batch completes.
	entries, err := os.ReadDir(cfg.InputDirectory)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging not cleaned up: %v", entries)
	}
}

func TestConvertEndpointRequiresFiles(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartBody(t, nil, map[string]string{"preset": "balanced"})
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConvertEndpointRejectsBadParams(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []map[string]string{
		{"preset": "ultra"},
		{"max_dimension": "50"},
		{"max_dimension": "abc"},
	}
	for _, fields := range cases {
		body, contentType := multipartBody(t,
			[]uploadPart{{name: "photo.png", content: pngBytes(t, 10, 10)}},
			fields,
		)
		req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("fields %v: status = %d, want 400", fields, rec.Code)
		}
	}
}

func TestConvertEndpointUploadCap(t *testing.T) {
	srv, cfg := newTestServer(t)
	cfg.Server.MaxUploadMB = 1

	big := make([]byte, 2<<20)
	body, contentType := multipartBody(t,
		[]uploadPart{{name: "big.png", content: big}},
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/api/convert", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code < 400 {
		t.Errorf("oversized upload accepted with status %d", rec.Code)
	}
}

func TestDownload(t *testing.T) {
	srv, cfg := newTestServer(t)

	path := filepath.Join(cfg.OutputDirectory, "pic.webp")
	if err := os.WriteFile(path, []byte("RIFFfakewebp"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/pic.webp", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/webp" {
		t.Errorf("content type = %s", got)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/missing.webp", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/evil.txt", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-webp name status = %d, want 400", rec.Code)
	}
}

func TestListAndClearResults(t *testing.T) {
	srv, cfg := newTestServer(t)

	if err := os.WriteFile(filepath.Join(cfg.OutputDirectory, "a.webp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.OutputDirectory, "skip.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listResp struct {
		Success bool         `json:"success"`
		Data    []ResultInfo `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatal(err)
	}
	if len(listResp.Data) != 1 || listResp.Data[0].Name != "a.webp" {
		t.Errorf("results = %+v, want only a.webp", listResp.Data)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/results", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDirectory, "a.webp")); !os.IsNotExist(err) {
		t.Error("output file not cleared")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Running bool `json:"running"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data.Running {
		t.Errorf("unexpected status response: %s", rec.Body.String())
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"photo.png", "photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\x\photo.png`, "photo.png"},
		{"..", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := sanitizeFilename(c.in); got != c.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
