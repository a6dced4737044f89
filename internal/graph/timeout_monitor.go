package graph

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeoutMonitor runs graph operations under their timeout and warns about
// operations that approach it
type TimeoutMonitor struct {
	logger       *logrus.Entry
	warningRatio float64 // Warn when execution reaches this share of the timeout
}

// NewTimeoutMonitor creates a monitor logging through logger
func NewTimeoutMonitor(logger *logrus.Logger) *TimeoutMonitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TimeoutMonitor{
		logger:       logger.WithField("component", "timeout_monitor"),
		warningRatio: 0.8,
	}
}

// MonitorWithContext runs fn under a context bounded by timeout and logs
// the outcome. A zero timeout runs fn with ctx unchanged.
func (tm *TimeoutMonitor) MonitorWithContext(
	ctx context.Context,
	operation string,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(runCtx)
	duration := time.Since(start)

	fields := logrus.Fields{
		"operation":        operation,
		"duration_seconds": duration.Seconds(),
	}
	if timeout > 0 {
		fields["timeout_seconds"] = timeout.Seconds()
	}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			tm.logger.WithFields(fields).WithError(err).Error("graph operation timed out")
		} else {
			tm.logger.WithFields(fields).WithError(err).Debug("graph operation failed")
		}
		return err
	}

	if timeout > 0 && duration >= time.Duration(float64(timeout)*tm.warningRatio) {
		fields["percent_used"] = duration.Seconds() / timeout.Seconds() * 100
		tm.logger.WithFields(fields).Warn("graph operation approaching timeout")
	} else {
		tm.logger.WithFields(fields).Trace("graph operation completed")
	}
	return nil
}
