package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"probeselect/logging"
)

// Pruner removes history older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// Hooks receive the outcome of every prune run; either may be nil.
type Hooks struct {
	OnPruned func(n int64)
	OnError  func(err error)
}

// CreateJob returns the prune job. It is a separate function so the job can
// be run directly, outside the cron loop.
func CreateJob(store Pruner, retention time.Duration, log *logging.Logger, hooks Hooks) func() {
	return func() {
		cutoff := time.Now().Add(-retention)
		log.Debugf("Pruning history before %s", cutoff.Format(time.RFC3339))

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := store.PruneBefore(ctx, cutoff)
		if err != nil {
			log.Errorf("Failed to prune history: %v", err)
			if hooks.OnError != nil {
				hooks.OnError(err)
			}
			return
		}
		if n > 0 {
			log.Infof("Pruned %d selections older than %s", n, retention)
		}
		if hooks.OnPruned != nil {
			hooks.OnPruned(n)
		}
	}
}

// StartScheduler starts a cron running job on spec and returns it with the
// job's entry id.
func StartScheduler(spec string, job func(), log *logging.Logger) (*cron.Cron, cron.EntryID, error) {
	log.Infof("Starting scheduler (%s)...", spec)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})))

	id, err := c.AddFunc(spec, job)
	if err != nil {
		return nil, 0, err
	}

	c.Start()
	return c, id, nil
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("%s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorf("%s: %v %v", msg, err, keysAndValues)
}
