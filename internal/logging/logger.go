package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int32

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "INFO" ...)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("неизвестный уровень логирования: %q", s)
	}
}

// Logger пишет сообщения в консоль и, если настроено, в файл.
// Уровни консоли и файла задаются раздельно.
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel atomic.Int32
	minFileLevel    atomic.Int32
}

var (
	settingsMu   sync.RWMutex
	logsDir      string // пусто — без файлов
	consoleLevel = INFO
	fileLevel    = DEBUG
	console      io.Writer = os.Stdout

	defaultLogger = newLogger("", log.New(os.Stdout, "", log.LstdFlags), nil, nil)
)

func newLogger(component string, consoleLogger, fileLogger *log.Logger, file *os.File) *Logger {
	settingsMu.RLock()
	cl, fl := consoleLevel, fileLevel
	settingsMu.RUnlock()

	l := &Logger{
		component:     component,
		consoleLogger: consoleLogger,
		fileLogger:    fileLogger,
		file:          file,
	}
	l.minConsoleLevel.Store(int32(cl))
	l.minFileLevel.Store(int32(fl))
	return l
}

// Options настраивает глобальную систему логирования
type Options struct {
	Dir          string   // директория для файлов логов; пусто — только консоль
	ConsoleLevel LogLevel // минимальный уровень для консоли
	FileLevel    LogLevel // минимальный уровень для файла
	Output       io.Writer
}

// InitLogger инициализирует систему логирования с файлом в директории logs
func InitLogger() error {
	return Init(Options{Dir: "logs", ConsoleLevel: INFO, FileLevel: TRACE})
}

// Init применяет настройки и пересоздаёт логгер по умолчанию
func Init(opts Options) error {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	settingsMu.Lock()
	logsDir = opts.Dir
	consoleLevel = opts.ConsoleLevel
	fileLevel = opts.FileLevel
	console = opts.Output
	settingsMu.Unlock()

	logger, err := NewLogger("server")
	if err != nil {
		return err
	}
	logger.component = ""
	defaultLogger = logger
	return nil
}

// NewLogger создаёт логгер компонента. Если задана директория логов,
// сообщения дублируются в файл <component>_<timestamp>.log.
func NewLogger(component string) (*Logger, error) {
	settingsMu.RLock()
	dir, out := logsDir, console
	settingsMu.RUnlock()

	consoleLogger := log.New(out, "", log.LstdFlags)
	if dir == "" {
		return newLogger(component, consoleLogger, nil, nil), nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s.log", component, timestamp))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	return newLogger(component, consoleLogger, log.New(file, "", log.LstdFlags), file), nil
}

// SetLevels меняет пороги консоли и файла
func (l *Logger) SetLevels(consoleLevel, fileLevel LogLevel) {
	l.minConsoleLevel.Store(int32(consoleLevel))
	l.minFileLevel.Store(int32(fileLevel))
}

// Enabled сообщает, будет ли сообщение уровня level куда-либо записано
func (l *Logger) Enabled(level LogLevel) bool {
	if level >= LogLevel(l.minConsoleLevel.Load()) {
		return true
	}
	return l.fileLogger != nil && level >= LogLevel(l.minFileLevel.Load())
}

// Close закрывает файл логов компонента
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		message = fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, message)
	} else {
		message = fmt.Sprintf("[%s] %s", level.String(), message)
	}

	if l.fileLogger != nil && level >= LogLevel(l.minFileLevel.Load()) {
		l.fileLogger.Println(message)
	}
	if level >= LogLevel(l.minConsoleLevel.Load()) {
		l.consoleLogger.Println(message)
	}
}

// CloseLogger закрывает систему логирования
func CloseLogger() {
	if defaultLogger != nil {
		defaultLogger.Close()
	}
	GetLoggerManager().CloseAll()
}

// Глобальные функции пишут через логгер по умолчанию

func Trace(format string, args ...interface{}) { defaultLogger.log(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { defaultLogger.log(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { defaultLogger.log(INFO, format, args...) }
func Warn(format string, args ...interface{})  { defaultLogger.log(WARN, format, args...) }
func Error(format string, args ...interface{}) { defaultLogger.log(ERROR, format, args...) }

// LogTrace логирует сообщение уровня TRACE
func LogTrace(format string, args ...interface{}) { Trace(format, args...) }

// LogDebug логирует сообщение уровня DEBUG
func LogDebug(format string, args ...interface{}) { Debug(format, args...) }

// LogInfo логирует сообщение уровня INFO
func LogInfo(format string, args ...interface{}) { Info(format, args...) }

// LogWarn логирует сообщение уровня WARN
func LogWarn(format string, args ...interface{}) { Warn(format, args...) }

// LogError логирует сообщение уровня ERROR
func LogError(format string, args ...interface{}) { Error(format, args...) }
