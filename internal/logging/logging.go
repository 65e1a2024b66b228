// Package logging constructs the zap.Logger used throughout the
// process.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a production or development logger depending on env.
// Production mode uses JSON encoding and info level; development mode
// uses console encoding and debug level.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("logging: build development logger: %w", err)
		}
		return logger, nil
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logging: build production logger: %w", err)
	}
	return logger, nil
}
