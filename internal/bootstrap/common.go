package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type operation func(ctx context.Context) error

type cleanup struct {
	name string
	op   operation
}

// fatalContext is cancelled by the first unrecoverable runtime error so the
// shutdown sequence can run the same way it does for a signal.
type fatalContext struct {
	context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newFatalContext(parent context.Context) *fatalContext {
	ctx, cancel := context.WithCancel(parent)
	return &fatalContext{Context: ctx, cancel: cancel}
}

// Fatal records the first error and cancels the context. Later calls are ignored.
func (f *fatalContext) Fatal(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return
	}
	logrus.WithError(err).Error("unrecoverable error, shutting down")
	f.err = err
	f.cancel()
}

func (f *fatalContext) Cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// gracefulShutdown waits for termination syscalls or for ctx to be done, then
// runs the clean up operations one by one in the given order.
func gracefulShutdown(ctx context.Context, timeout time.Duration, ops []cleanup) <-chan struct{} {
	wait := make(chan struct{})
	go func() {
		s := make(chan os.Signal, 1)

		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(s)

		select {
		case sig := <-s:
			logrus.WithField("signal", sig.String()).Info("shutting down")
		case <-ctx.Done():
			logrus.Info("shutting down")
		}

		// set timeout for the ops to be done to prevent system hang
		timeoutFunc := time.AfterFunc(timeout, func() {
			logrus.Error(fmt.Sprintf("timeout %d ms has been elapsed, force exit", timeout.Milliseconds()))
			os.Exit(1)
		})

		defer timeoutFunc.Stop()

		opCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// later steps depend on earlier ones having drained
		for _, c := range ops {
			logrus.Info(fmt.Sprintf("cleaning up: %s", c.name))
			if err := c.op(opCtx); err != nil {
				logrus.Error(fmt.Sprintf("%s: clean up failed: %s", c.name, err.Error()))
				continue
			}

			logrus.Info(fmt.Sprintf("%s was shutdown gracefully", c.name))
		}

		close(wait)
	}()

	return wait
}
