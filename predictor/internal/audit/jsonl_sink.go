package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DriverJSONL - журнал в файл JSON Lines с ротацией
const DriverJSONL = "jsonl"

// JSONLStats - статистика записи журнала
type JSONLStats struct {
	TotalLines    int64     `json:"total_lines"`
	TotalBytes    int64     `json:"total_bytes"`
	LastWriteTime time.Time `json:"last_write_time"`
	ErrorsCount   int64     `json:"errors_count"`
}

type JSONLConfig struct {
	FilePath   string
	BufferSize int
	MaxSizeMB  int
	MaxBackups int
}

// JSONLSink пишет каждую запись отдельной строкой JSON. Пачка сбрасывается на диск целиком.
type JSONLSink struct {
	mu     sync.Mutex
	file   io.WriteCloser
	writer *bufio.Writer
	stats  JSONLStats
}

func NewJSONLSink(cfg JSONLConfig) (*JSONLSink, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("jsonl audit: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 10),
	}

	var writer *bufio.Writer
	if cfg.BufferSize > 0 {
		writer = bufio.NewWriterSize(file, cfg.BufferSize)
	} else {
		writer = bufio.NewWriter(file)
	}

	return &JSONLSink{file: file, writer: writer}, nil
}

func (j *JSONLSink) Consume(ctx context.Context, b Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		j.stats.ErrorsCount++
		return io.ErrClosedPipe
	}

	var written int64
	for _, record := range b.Records {
		line, err := json.Marshal(record)
		if err != nil {
			j.stats.ErrorsCount++
			return fmt.Errorf("JSON marshaling failed: %w", err)
		}
		line = append(line, '\n')

		if _, err := j.writer.Write(line); err != nil {
			j.stats.ErrorsCount++
			return fmt.Errorf("write failed: %w", err)
		}
		written += int64(len(line))
	}

	if err := j.writer.Flush(); err != nil {
		j.stats.ErrorsCount++
		return fmt.Errorf("flush failed: %w", err)
	}

	j.stats.TotalLines += int64(len(b.Records))
	j.stats.TotalBytes += written
	j.stats.LastWriteTime = time.Now()
	return nil
}

// GetStats возвращает текущую статистику записи
func (j *JSONLSink) GetStats() JSONLStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// Close сбрасывает буфер и закрывает файл
func (j *JSONLSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return nil
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("final flush failed: %w", err)
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("file close failed: %w", err)
	}

	j.writer = nil
	j.file = nil
	return nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
