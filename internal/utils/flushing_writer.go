package utils

import (
	"io"
	"sync"
)

// FlushingWriter serializes writes and flushes buffered writers after each one
// so that notification lines become visible immediately.
type FlushingWriter struct {
	writer io.Writer
	mutex  sync.Mutex
}

// NewFlushingWriter wraps writer; an existing FlushingWriter is returned unchanged.
func NewFlushingWriter(writer io.Writer) io.Writer {
	if writer == nil {
		return nil
	}
	if _, alreadyWrapped := writer.(*FlushingWriter); alreadyWrapped {
		return writer
	}
	return &FlushingWriter{writer: writer}
}

// Write delegates to the underlying writer and flushes it when possible.
func (flushingWriter *FlushingWriter) Write(data []byte) (int, error) {
	if flushingWriter == nil || flushingWriter.writer == nil {
		return 0, nil
	}

	flushingWriter.mutex.Lock()
	defer flushingWriter.mutex.Unlock()

	bytesWritten, writeError := flushingWriter.writer.Write(data)
	if writeError != nil {
		return bytesWritten, writeError
	}

	switch flushableWriter := flushingWriter.writer.(type) {
	case interface{ Flush() error }:
		return bytesWritten, flushableWriter.Flush()
	case interface{ Sync() error }:
		if syncError := flushableWriter.Sync(); syncError != nil && !isUnsupportedSyncError(syncError) {
			return bytesWritten, syncError
		}
	}

	return bytesWritten, nil
}
