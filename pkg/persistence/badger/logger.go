package badger

import (
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// badgerLoggerAdapter routes Badger's internal logging through zap under a "badger" name.
type badgerLoggerAdapter struct {
	logger *zap.Logger
}

var _ badgerdb.Logger = (*badgerLoggerAdapter)(nil)

func (b *badgerLoggerAdapter) named() *zap.Logger {
	return b.logger.Named("badger")
}

func (b *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	b.named().Error(fmt.Sprintf(format, args...))
}

func (b *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	b.named().Warn(fmt.Sprintf(format, args...))
}

// Infof logs at debug level.
func (b *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	b.named().Debug(fmt.Sprintf(format, args...))
}

func (b *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	b.named().Debug(fmt.Sprintf(format, args...))
}
