package database

import (
	"time"

	"gorm.io/gorm/logger"

	"github.com/i474232898/heat-island-pipeline/internal/log"
)

func newGormLogger() logger.Interface {
	return logger.New(
		log.StdLogger(),
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
