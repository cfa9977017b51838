package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	writer, err := NewRotatingFileWriter(RotationConfig{Filename: logFile, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	writer.now = func() time.Time {
		stamp = stamp.Add(time.Second)
		return stamp
	}

	for i := 0; i < 4; i++ {
		if _, err := writer.Write([]byte("line\n")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		// force the next write to rotate
		writer.mu.Lock()
		writer.currentSize = writer.maxSize
		writer.mu.Unlock()
	}

	backups := writer.Backups()
	if len(backups) != 2 {
		t.Fatalf("got %d backups, want 2: %v", len(backups), backups)
	}
	if !strings.Contains(backups[1], "20260102-030408.000") {
		t.Errorf("newest backup = %s", backups[1])
	}
	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if string(content) != "line\n" {
		t.Errorf("current file = %q, want a single line", content)
	}
}

func TestRotatingFileWriterCompress(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")

	writer, err := NewRotatingFileWriter(RotationConfig{Filename: logFile, Compress: true})
	if err != nil {
		t.Fatalf("failed to create rotating writer: %v", err)
	}
	defer writer.Close()

	writer.Write([]byte("first\n"))
	writer.mu.Lock()
	writer.currentSize = writer.maxSize
	writer.mu.Unlock()
	writer.Write([]byte("second\n"))

	backups := writer.Backups()
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".log.gz") {
		t.Fatalf("expected one gzip backup, got %v", backups)
	}
}

func TestNewFileLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	logger, writer, err := NewFileLogger("test", RotationConfig{Filename: logFile})
	if err != nil {
		t.Fatalf("failed to create file logger: %v", err)
	}
	defer writer.Close()

	logger.Info("test message")

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "test message") {
		t.Errorf("log file missing expected content: %s", content)
	}
}

func TestIsRotatedFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"app.20260102-030405.000.log", true},
		{"app.20260102-030405.000.log.gz", true},
		{"app.log", false},
		{"app.backup.log", false},
		{"other.20260102-030405.000.log", false},
	}
	for _, tt := range tests {
		if got := isRotatedFile(tt.name, "app", ".log"); got != tt.want {
			t.Errorf("isRotatedFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
