package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/common/config"
)

var (
	Logger       glog.Logger
	setupLogOnce sync.Once
	initLogOnce  sync.Once

	// LogDir, when non-empty, mirrors gin's writers into a rotating daily log file.
	LogDir string
)

// init initializes the logger automatically when the package is imported
func init() {
	initLogger()
}

// initLogger initializes the go-utils logger
func initLogger() {
	initLogOnce.Do(func() {
		var err error
		level := glog.LevelInfo
		if config.DebugEnabled {
			level = glog.LevelDebug
		}

		Logger, err = glog.NewConsoleWithName("proxycast", level)
		if err != nil {
			panic(fmt.Sprintf("failed to create logger: %+v", err))
		}
	})
}

// SetupLogger mirrors gin's default writers into a daily-rotated log file
// under LogDir, in addition to stdout/stderr. Called once at startup.
func SetupLogger() {
	setupLogOnce.Do(func() {
		if LogDir == "" {
			return
		}
		logPath := filepath.Join(LogDir, fmt.Sprintf("proxycast-%s.log", time.Now().Format("20060102")))
		fd, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal("failed to open log file")
		}
		gin.DefaultWriter = io.MultiWriter(os.Stdout, fd)
		gin.DefaultErrorWriter = io.MultiWriter(os.Stderr, fd)
	})
}
