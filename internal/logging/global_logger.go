// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logging configures the process-wide logrus logger: a compact line
// format carrying the resolution's request ID, optional rotating file output,
// and Gin's writers routed into the same logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// LogFormatter renders entries as
//
//	[2026-01-02 15:04:05] [a1b2c3d4] [info ] [healer.go:120] healed selector | strategy=dom_analysis
//
// Fields other than request_id are appended in key order.
type LogFormatter struct{}

// Format renders a single log entry.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data[RequestIDField].(string); ok && id != "" {
		reqID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] [%s:%d] %s", timestamp, reqID, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] %s", timestamp, reqID, level, message)
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != RequestIDField {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		buffer.WriteString(" |")
		for i, k := range keys {
			if i > 0 {
				buffer.WriteByte(',')
			}
			fmt.Fprintf(buffer, " %s=%v", k, entry.Data[k])
		}
	}
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

// SetupBaseLogger configures the shared logrus instance and Gin writers.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			format = strings.TrimRight(format, "\r\n")
			log.StandardLogger().Infof(format, values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// SetDebug switches between debug and info level.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}

// ConfigureLogOutput switches the global log destination between a rotating
// file in logDir and stdout. maxSizeMB bounds one file before rotation; three
// rotated files are kept.
func ConfigureLogOutput(loggingToFile bool, logDir string, maxSizeMB int) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if !loggingToFile {
		log.SetOutput(os.Stdout)
		return nil
	}

	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	logWriter = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "autoheal.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   false,
	}
	log.SetOutput(logWriter)
	return nil
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}
