package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/lab-relay/internal/heartbeat"
)

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("lab-relay runtime starting",
		"http_addr", r.cfg.HTTPAddr,
		"project", r.registry.ProjectPath(),
		"target_group", r.cfg.TargetGroup,
		"operator_only", r.cfg.OperatorOnly,
	)
	if r.heartbeat != nil {
		r.heartbeat.Beat(heartbeat.ComponentRuntime, "runtime loop started")
	}
	beatInterval := time.Duration(r.cfg.HeartbeatIntervalSec) * time.Second

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// The connector reports its own beats, including busy periods during long runs.
		return runMonitored(groupCtx, nil, heartbeat.ComponentTelegram, 0, r.connector.Start)
	})
	if r.watcher != nil {
		group.Go(func() error {
			return runMonitored(groupCtx, r.reporter(), heartbeat.ComponentWatcher, beatInterval, r.watcher.Start)
		})
	}
	if r.httpServer != nil {
		group.Go(func() error {
			return runMonitored(groupCtx, r.reporter(), heartbeat.ComponentAPI, beatInterval, func(runCtx context.Context) error {
				err := r.httpServer.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return r.httpServer.Shutdown(shutdownCtx)
		})
	}
	if r.heartbeat != nil {
		group.Go(func() error {
			return runMonitored(groupCtx, r.heartbeat, heartbeat.ComponentRuntime, beatInterval, r.heartbeatMonitor.Start)
		})
	}

	err := group.Wait()
	r.logger.Info("lab-relay runtime stopped")
	return err
}

// reporter avoids handing a typed nil registry to runMonitored.
func (r *Runtime) reporter() heartbeat.Reporter {
	if r.heartbeat == nil {
		return nil
	}
	return r.heartbeat
}

func runMonitored(
	ctx context.Context,
	reporter heartbeat.Reporter,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter != nil {
		reporter.Starting(component, "starting")
		reporter.Beat(component, "running")
	}

	var stopHeartbeat func()
	if reporter != nil && beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		stopHeartbeat = cancel
		go func() {
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component, "running")
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if reporter == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, "component failed", err)
		return err
	}
	reporter.Stopped(component, "stopped")
	return err
}
