package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	log  Logger = NullLogger{}
	once sync.Once
)

// InitLogger points the package logger at dataDir/plmgen.log. An empty dataDir
// means ~/.plmgen.
func InitLogger(dataDir string, debug bool) {
	once.Do(func() {
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				panic("Failed to get user home directory: " + err.Error())
			}
			dataDir = filepath.Join(homeDir, ".plmgen")
		}

		err := os.MkdirAll(dataDir, 0755)
		if err != nil {
			panic("Failed to create data directory: " + err.Error())
		}

		logFile, err := os.OpenFile(filepath.Join(dataDir, "plmgen.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			panic("Failed to open log file: " + err.Error())
		}

		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		log = NewZerologLogger(logFile, level)
	})
}

// GetLogger returns the logger instance
func GetLogger() Logger {
	return log
}

// NewZerologLogger builds a Logger writing JSON lines to w.
func NewZerologLogger(w io.Writer, level zerolog.Level) Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZerologAdapter{logger: &zl}
}

// ZerologAdapter adapts zerolog.Logger to our Logger interface
type ZerologAdapter struct {
	logger *zerolog.Logger
}

func (z *ZerologAdapter) Debug(msg string) { z.logger.Debug().Msg(msg) }
func (z *ZerologAdapter) Info(msg string)  { z.logger.Info().Msg(msg) }
func (z *ZerologAdapter) Warn(msg string)  { z.logger.Warn().Msg(msg) }
func (z *ZerologAdapter) Error(msg string) { z.logger.Error().Msg(msg) }
func (z *ZerologAdapter) Fatal(msg string) { z.logger.Fatal().Msg(msg) }
func (z *ZerologAdapter) WithField(key string, value interface{}) Logger {
	newLogger := z.logger.With().Interface(key, value).Logger()
	return &ZerologAdapter{logger: &newLogger}
}
