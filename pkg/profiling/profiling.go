package profiling

import (
	"fmt"
	"kis_trader/pkg/logger"

	"github.com/grafana/pyroscope-go"
)

type Config struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	Env           string
}

type zapAdapter struct{}

func (zapAdapter) Infof(format string, args ...interface{})  { logger.Info(format, args...) }
func (zapAdapter) Debugf(format string, args ...interface{}) {}
func (zapAdapter) Errorf(format string, args ...interface{}) { logger.Error(format, args...) }

// Start launches a continuous profiler. The returned stop func is always non-nil.
func Start(cfg Config) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddress,
		Tags: map[string]string{
			"env": cfg.Env,
		},
		Logger: zapAdapter{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return func() {}, fmt.Errorf("pyroscope start: %w", err)
	}

	return func() {
		_ = profiler.Stop()
	}, nil
}
