package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/binuengoor/Image-Optimizer-for-Web/internal/config"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/converter"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/scanner"
	"github.com/binuengoor/Image-Optimizer-for-Web/internal/statistics"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server is the web front-end: it stages uploads, runs the conversion
// pipeline, and serves the results for download.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	conv       converter.Converter
	router     *mux.Router
	httpServer *http.Server
	validate   *validator.Validate
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Batches are serialized; concurrency across requests is the host
	// process model's affair, not the pipeline's.
	batchMutex sync.Mutex

	stateMutex sync.RWMutex
	isRunning  bool
	lastStats  *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FileReport is the per-file entry returned by the convert endpoint.
type FileReport struct {
	InputName    string  `json:"input_name"`
	OutputName   string  `json:"output_name,omitempty"`
	InputSize    int64   `json:"input_size,omitempty"`
	OutputSize   int64   `json:"output_size,omitempty"`
	SavedPercent float64 `json:"saved_percent,omitempty"`
	Success      bool    `json:"success"`
	Error        string  `json:"error,omitempty"`
	DownloadURL  string  `json:"download_url,omitempty"`
}

// ResultInfo describes one converted file in the output directory.
type ResultInfo struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
	DownloadURL  string `json:"download_url"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// convertParams are the form values accepted by the convert endpoint.
type convertParams struct {
	Preset       string `validate:"omitempty,oneof=balanced high max"`
	MaxDimension int    `validate:"omitempty,min=100,max=20000"`
}

// allowedMIMETypes is the upload contract; parts outside it are reported as
// unreadable without aborting the rest of the batch.
var allowedMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

func NewServer(cfg *config.Config, log *logrus.Logger, conv converter.Converter) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		conv:      conv,
		router:    mux.NewRouter(),
		validate:  validator.New(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	if dc, ok := conv.(*converter.DefaultConverter); ok {
		dc.OnResult = s.broadcastFileResult
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/convert", s.handleConvert).Methods("POST")
	api.HandleFunc("/results", s.handleListResults).Methods("GET")
	api.HandleFunc("/results", s.handleClearResults).Methods("DELETE")
	api.HandleFunc("/input", s.handleClearInput).Methods("DELETE")
	api.HandleFunc("/presets", s.handlePresets).Methods("GET")

	// Download converted files
	s.router.HandleFunc("/download/{name}", s.handleDownload).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Static files
	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir("web/static/"))),
	)

	// Main page
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, "web/templates/index.html")
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	type presetInfo struct {
		ID      string `json:"id"`
		Quality int    `json:"quality"`
		Label   string `json:"label"`
	}
	presets := []presetInfo{
		{ID: converter.PresetBalanced.String(), Quality: converter.PresetBalanced.Quality(), Label: "Balanced (recommended)"},
		{ID: converter.PresetHighQuality.String(), Quality: converter.PresetHighQuality.Quality(), Label: "High Quality (larger files)"},
		{ID: converter.PresetMaxCompression.String(), Quality: converter.PresetMaxCompression.Quality(), Label: "Maximum Compression (smallest files)"},
	}
	s.writeJSON(w, APIResponse{Success: true, Data: presets})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.stateMutex.RLock()
	running := s.isRunning
	stats := s.lastStats
	s.stateMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = map[string]interface{}{
			"converted":     stats.GetFilesConverted(),
			"failed":        stats.GetFilesFailed(),
			"saved_percent": stats.SavedPercent(),
			"summary":       stats.GetSummary(),
		}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"statistics": statsData,
		},
	})
}

// handleConvert accepts a multipart batch under the "images" field, stages
// the files, runs the pipeline synchronously, and returns the per-file
// report. The response keeps the upload order.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			s.writeError(w, fmt.Sprintf("upload exceeds the %d MB limit", s.cfg.Server.MaxUploadMB), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid multipart request: "+err.Error(), http.StatusBadRequest)
		return
	}

	params := convertParams{
		Preset: r.FormValue("preset"),
	}
	if v := r.FormValue("max_dimension"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, "max_dimension must be an integer", http.StatusBadRequest)
			return
		}
		params.MaxDimension = n
	}
	if err := s.validate.Struct(params); err != nil {
		s.writeError(w, "Invalid parameters: "+err.Error(), http.StatusBadRequest)
		return
	}

	preset := s.cfg.Preset()
	if params.Preset != "" {
		p, err := converter.ParsePreset(params.Preset)
		if err != nil {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		preset = p
	}
	maxDim := s.cfg.Conversion.MaxDimension
	if params.MaxDimension > 0 {
		maxDim = params.MaxDimension
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		s.writeError(w, `missing image files: form field key should be "images"`, http.StatusBadRequest)
		return
	}

	// One staging directory per batch so concurrent uploads with the same
	// file names cannot collide, while output names stay derived from the
	// original base names.
	staging := filepath.Join(s.cfg.InputDirectory, uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		s.writeError(w, "Failed to create staging directory: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(staging)

	reports := make([]FileReport, len(files))
	var reqs []converter.Request
	reqIndex := make([]int, 0, len(files))

	for i, fh := range files {
		name := sanitizeFilename(fh.Filename)
		reports[i] = FileReport{InputName: name}
		if name == "" {
			reports[i].Error = "invalid file name"
			continue
		}

		stagedPath, err := s.stageUpload(fh, filepath.Join(staging, name))
		if err != nil {
			reports[i].Error = err.Error()
			continue
		}

		reqs = append(reqs, converter.Request{
			InputPath:    stagedPath,
			Preset:       preset,
			MaxDimension: maxDim,
		})
		reqIndex = append(reqIndex, i)
	}

	s.batchMutex.Lock()
	defer s.batchMutex.Unlock()

	stats := statistics.NewStatistics()
	s.stateMutex.Lock()
	s.isRunning = true
	s.lastStats = stats
	s.stateMutex.Unlock()

	s.broadcastWSMessage("convert_started", map[string]interface{}{
		"count":  len(reqs),
		"preset": preset.String(),
	})

	results, err := s.conv.ConvertBatch(r.Context(), s.cfg.OutputDirectory, reqs)

	s.stateMutex.Lock()
	s.isRunning = false
	s.stateMutex.Unlock()

	if err != nil {
		s.broadcastWSMessage("convert_error", map[string]interface{}{"error": err.Error()})
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	for j, res := range results {
		stats.IncrementFilesFound()
		stats.IncrementFormat(filepath.Ext(res.InputPath))
		stats.RecordResult(res)

		report := &reports[reqIndex[j]]
		report.InputSize = res.InputSize
		if res.Success {
			outName := filepath.Base(res.OutputPath)
			report.Success = true
			report.OutputName = outName
			report.OutputSize = res.OutputSize
			report.SavedPercent = res.SavedPercent()
			report.DownloadURL = "/download/" + outName
		} else {
			report.Error = res.Message
		}
	}
	stats.Finalize()

	s.broadcastWSMessage("convert_completed", map[string]interface{}{
		"converted": stats.GetFilesConverted(),
		"failed":    stats.GetFilesFailed(),
	})

	s.writeJSON(w, APIResponse{Success: true, Data: reports})
}

// stageUpload sniffs the part's content type and writes it to dst. Parts
// outside the accepted image types are rejected before staging.
func (s *Server) stageUpload(fh *multipart.FileHeader, dst string) (string, error) {
	file, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	mime, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("detect file type: %w", err)
	}
	if !allowedMIMETypes[mime.String()] {
		return "", fmt.Errorf("unsupported file type: %s", mime.String())
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return dst, nil
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.OutputDirectory)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read output directory: %v", err), http.StatusInternalServerError)
		return
	}

	results := make([]ResultInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".webp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		results = append(results, ResultInfo{
			Name:         entry.Name(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
			DownloadURL:  "/download/" + entry.Name(),
		})
	}

	s.writeJSON(w, APIResponse{Success: true, Data: results})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".webp") {
		s.writeError(w, "Invalid file name", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.cfg.OutputDirectory, name)
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func (s *Server) handleClearResults(w http.ResponseWriter, r *http.Request) {
	if err := scanner.ClearDir(s.cfg.OutputDirectory); err != nil {
		s.writeError(w, fmt.Sprintf("Failed to clear output folder: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Output folder cleared"})
}

func (s *Server) handleClearInput(w http.ResponseWriter, r *http.Request) {
	if err := scanner.ClearDir(s.cfg.InputDirectory); err != nil {
		s.writeError(w, fmt.Sprintf("Failed to clear input folder: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Input folder cleared"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// broadcastFileResult pushes per-file progress to connected clients while a
// batch is running.
func (s *Server) broadcastFileResult(index, total int, res converter.Result) {
	s.broadcastWSMessage("file_done", map[string]interface{}{
		"index":   index,
		"total":   total,
		"input":   filepath.Base(res.InputPath),
		"success": res.Success,
		"error":   res.Message,
	})
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

// sanitizeFilename reduces an uploaded file name to a safe base name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
