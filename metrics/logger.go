package metrics

import (
	"fmt"
	"log"
	"os"
	"path"
	"sync"
	"time"
)

// Logger receives one RunInfo per processed product. Close flushes
// anything still queued.
type Logger interface {
	Log(info *RunInfo)
	Close()
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *RunInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.Print(infoStr)
	} else {
		log.Printf("StdoutLogger: error: %v", err)
	}
}

func (l *StdoutLogger) Close() {}

const defaultQueueSize = 64
const defaultMaxLogFileSize = 64 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends run records, one JSON document per line, to LogDir/log0
// and rotates the file once it reaches MaxLogFileSize.
type FileLogger struct {
	RunQueue       chan *RunInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool

	wg sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) (*FileLogger, error) {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	logger := &FileLogger{
		RunQueue:       make(chan *RunInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}

	logger.wg.Add(1)
	go logger.startLogWriter(0)
	return logger, nil
}

func (l *FileLogger) Log(info *RunInfo) {
	l.RunQueue <- info
}

// Close stops accepting records and waits until the queue is written.
func (l *FileLogger) Close() {
	close(l.RunQueue)
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Printf("FileLogger%d: log open error: %v", idx, err)
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for info := range l.RunQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("FileLogger%d: info.ToJSON() error: %v", idx, err)
			continue
		}
		if f == nil {
			if f, err = l.openLogFile(idx); err != nil {
				continue
			}
		}
		if f, err = l.tryRotateLogFile(f, idx); err != nil {
			continue
		}
		if _, err := f.WriteString(infoStr); err != nil {
			log.Printf("FileLogger%d: write error: %v", idx, err)
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	logFilePath := path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
	return os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// tryRotateLogFile moves a full log file to the first free logN.k slot, or
// over the oldest rotated file once MaxLogFiles slots are taken.
func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	info, err := currFile.Stat()
	if err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currLogFilePath := path.Join(l.LogDir, fmt.Sprintf("log%d", idx))
	var rotatedLogFilePath string
	var oldestTime time.Time
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := path.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		st, err := os.Stat(filePath)
		if os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
		if err == nil && (rotatedLogFilePath == "" || st.ModTime().Before(oldestTime)) {
			rotatedLogFilePath = filePath
			oldestTime = st.ModTime()
		}
	}
	if rotatedLogFilePath == "" {
		return currFile, nil
	}

	currFile.Close()
	if err := os.Rename(currLogFilePath, rotatedLogFilePath); err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
	} else if l.Verbose {
		log.Printf("FileLogger%d: log file rotated: %v", idx, rotatedLogFilePath)
	}

	f, err := l.openLogFile(idx)
	if err != nil {
		log.Printf("FileLogger%d: log rotation error: %v", idx, err)
	}
	return f, err
}
