package persistence

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/globals"
)

// cronLogger adapts hclog to the cron.Logger interface.
type cronLogger struct {
	logger hclog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// PruneMessages deletes all messages older than maxAge (relative to now).
func PruneMessages(p Persister, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("invalid retention max age %s", maxAge)
	}
	return p.DeleteMessagesBefore(now.Add(-maxAge))
}

// StartRetention schedules PruneMessages according to cfg.RetentionConfig. It returns nil (and no error) if no
// schedule is configured. The caller stops the returned cron runner on shutdown.
func StartRetention(p Persister, cfg *config.Config) (*cron.Cron, error) {
	rc := cfg.RetentionConfig
	if rc.Schedule == "" {
		return nil, nil
	}
	if rc.MaxAge <= 0 {
		return nil, fmt.Errorf("retention schedule %q needs a positive max_age", rc.Schedule)
	}
	logger := globals.AppLogger.Named("retention")
	cl := cronLogger{logger: logger}
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))
	_, err := cronRunner.AddFunc(rc.Schedule, func() {
		n, err := PruneMessages(p, rc.MaxAge, time.Now().UTC())
		if err != nil {
			logger.Error("could not prune messages", "error", err)
			return
		}
		logger.Info("pruned messages", "count", n, "max_age", rc.MaxAge)
	})
	if err != nil {
		return nil, err
	}
	cronRunner.Start()
	return cronRunner, nil
}
