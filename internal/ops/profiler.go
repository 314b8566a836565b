package ops

import (
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
)

type quietLogger struct{}

func (quietLogger) Infof(string, ...interface{})  {}
func (quietLogger) Debugf(string, ...interface{}) {}
func (quietLogger) Errorf(format string, args ...interface{}) {
	logs.Errorf("pyroscope: "+format, args...)
}

// StartProfiler starts continuous profiling when enabled. The returned stop
// func is always safe to call.
func StartProfiler(cfg PyroscopeConfig, service string) (stop func(), err error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	name := cfg.ApplicationName
	if name == "" {
		name = "tradesim"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: name + "." + service,
		ServerAddress:   cfg.ServerAddress,
		Logger:          quietLogger{},
		Tags: map[string]string{
			"service": service,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return func() {}, err
	}

	logs.Infof("pyroscope profiling %s to %s", name+"."+service, cfg.ServerAddress)
	return func() { _ = profiler.Stop() }, nil
}
