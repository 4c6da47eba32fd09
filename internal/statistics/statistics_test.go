package statistics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/binuengoor/Image-Optimizer-for-Web/internal/converter"
)

func TestRecordResult(t *testing.T) {
	stats := NewStatistics()

	stats.IncrementFilesFound()
	stats.RecordResult(converter.Result{
		InputPath:  "a.png",
		OutputPath: "a.webp",
		InputSize:  1000,
		OutputSize: 400,
		Success:    true,
	})

	stats.IncrementFilesFound()
	stats.RecordResult(converter.Result{
		InputPath:  "b.png",
		Message:    "unreadable input: broken",
		Err:        errors.New("unreadable input: broken"),
		FinishedAt: time.Now(),
	})

	if got := stats.GetFilesConverted(); got != 1 {
		t.Errorf("FilesConverted = %d, want 1", got)
	}
	if got := stats.GetFilesFailed(); got != 1 {
		t.Errorf("FilesFailed = %d, want 1", got)
	}
	if got := stats.SavedPercent(); got != 60 {
		t.Errorf("SavedPercent = %v, want 60", got)
	}
}

func TestSummaryContents(t *testing.T) {
	stats := NewStatistics()
	stats.IncrementFilesFound()
	stats.IncrementFormat(".PNG")
	stats.RecordResult(converter.Result{InputSize: 2048, OutputSize: 1024, Success: true})
	stats.Finalize()

	summary := stats.GetSummary()
	for _, want := range []string{"Found: 1", "Converted: 1", "Failed: 0", "2.0 KB", "1.0 KB", "50.0%"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	breakdown := stats.GetFormatBreakdown()
	if !strings.Contains(breakdown, ".png: 1") {
		t.Errorf("breakdown missing normalized extension:\n%s", breakdown)
	}
}

func TestErrorSummary(t *testing.T) {
	stats := NewStatistics()
	if got := stats.GetErrorSummary(); !strings.Contains(got, "No errors") {
		t.Errorf("empty error summary = %q", got)
	}

	stats.RecordResult(converter.Result{
		InputPath:  "bad.png",
		Message:    "unreadable input",
		FinishedAt: time.Now(),
	})
	got := stats.GetErrorSummary()
	if !strings.Contains(got, "bad.png") || !strings.Contains(got, "unreadable input") {
		t.Errorf("error summary missing entry:\n%s", got)
	}
}

func TestSavedPercentEmpty(t *testing.T) {
	stats := NewStatistics()
	if got := stats.SavedPercent(); got != 0 {
		t.Errorf("SavedPercent with no data = %v, want 0", got)
	}
}
