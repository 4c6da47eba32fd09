package statistics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/binuengoor/Image-Optimizer-for-Web/internal/converter"
)

// Statistics contains counters for one conversion batch.
type Statistics struct {
	FilesFound     int64
	FilesConverted int64
	FilesFailed    int64
	BytesIn        int64
	BytesOut       int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []ConversionError

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// ConversionError represents a per-file failure recorded during a batch.
type ConversionError struct {
	FilePath  string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]ConversionError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.FilesFound, 1)
}

// IncrementFormat increases the count for a source extension by 1.
func (s *Statistics) IncrementFormat(ext string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[strings.ToLower(ext)]++
}

// RecordResult folds one conversion result into the counters.
func (s *Statistics) RecordResult(res converter.Result) {
	if res.Success {
		atomic.AddInt64(&s.FilesConverted, 1)
		atomic.AddInt64(&s.BytesIn, res.InputSize)
		atomic.AddInt64(&s.BytesOut, res.OutputSize)
		return
	}

	atomic.AddInt64(&s.FilesFailed, 1)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Errors = append(s.Errors, ConversionError{
		FilePath:  res.InputPath,
		Error:     res.Message,
		Timestamp: res.FinishedAt,
	})
}

// Finalize computes the duration once the batch is done.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SavedPercent returns the overall size reduction across the batch.
func (s *Statistics) SavedPercent() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	if in <= 0 {
		return 0
	}
	return float64(in-out) * 100 / float64(in)
}

// GetSummary returns a formatted summary of the batch.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	s.mutex.RUnlock()

	return fmt.Sprintf(`WebP Optimizer Summary:

Files:
		Found: %d
		Converted: %d
		Failed: %d

Sizes:
		Bytes In: %s
		Bytes Out: %s
		Saved: %.1f%%

Duration: %v`,
		atomic.LoadInt64(&s.FilesFound),
		atomic.LoadInt64(&s.FilesConverted),
		atomic.LoadInt64(&s.FilesFailed),
		formatBytes(atomic.LoadInt64(&s.BytesIn)),
		formatBytes(atomic.LoadInt64(&s.BytesOut)),
		s.SavedPercent(),
		duration)
}

// GetErrorSummary returns a summary of failures recorded during the batch.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during conversion"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.FilePath,
			err.Error)
	}
	return result
}

// GetFormatBreakdown returns a formatted breakdown of source formats seen.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	result := "Source Format Breakdown:\n"
	for ext, count := range s.FormatStats {
		result += fmt.Sprintf("  %s: %d\n", ext, count)
	}
	return result
}

// GetFilesConverted returns the number of successful conversions.
func (s *Statistics) GetFilesConverted() int64 {
	return atomic.LoadInt64(&s.FilesConverted)
}

// GetFilesFailed returns the number of failed conversions.
func (s *Statistics) GetFilesFailed() int64 {
	return atomic.LoadInt64(&s.FilesFailed)
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
