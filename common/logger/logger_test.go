package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSetupLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()

	originalLogDir := LogDir
	originalDefaultWriter := gin.DefaultWriter
	originalDefaultErrorWriter := gin.DefaultErrorWriter

	t.Cleanup(func() {
		LogDir = originalLogDir
		gin.DefaultWriter = originalDefaultWriter
		gin.DefaultErrorWriter = originalDefaultErrorWriter
		ResetSetupLogOnceForTests()
	})

	LogDir = dir
	ResetSetupLogOnceForTests()

	SetupLogger()

	Logger.Info("file logging test entry")
	_ = Logger.Sync()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to list log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log file, got %d", len(entries))
	}

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "file logging test entry") {
		t.Fatalf("log file %s does not contain expected log entry", entries[0].Name())
	}
}

func TestResetSetupLogOnceForTestsAllowsReconfiguration(t *testing.T) {
	originalLogDir := LogDir
	originalDefaultWriter := gin.DefaultWriter
	originalDefaultErrorWriter := gin.DefaultErrorWriter

	t.Cleanup(func() {
		LogDir = originalLogDir
		gin.DefaultWriter = originalDefaultWriter
		gin.DefaultErrorWriter = originalDefaultErrorWriter
		ResetSetupLogOnceForTests()
	})

	firstDir := t.TempDir()
	secondDir := t.TempDir()

	LogDir = firstDir
	ResetSetupLogOnceForTests()
	SetupLogger()
	Logger.Info("first directory setup complete")
	_ = Logger.Sync()

	firstEntries, err := os.ReadDir(firstDir)
	if err != nil || len(firstEntries) != 1 {
		t.Fatalf("expected one log file in first dir, err=%v entries=%v", err, firstEntries)
	}

	LogDir = secondDir
	SetupLogger()
	secondEntries, err := os.ReadDir(secondDir)
	if err != nil {
		t.Fatalf("failed to list second dir: %v", err)
	}
	if len(secondEntries) != 0 {
		t.Fatalf("log file should not exist in second dir before reset")
	}

	ResetSetupLogOnceForTests()
	SetupLogger()
	Logger.Info("second directory setup complete after reset")
	_ = Logger.Sync()

	secondEntries, err = os.ReadDir(secondDir)
	if err != nil || len(secondEntries) != 1 {
		t.Fatalf("expected one log file in second dir after reset, err=%v entries=%v", err, secondEntries)
	}
}
