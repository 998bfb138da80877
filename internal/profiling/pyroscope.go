package profiling

import (
	"os"

	"github.com/flexprice/usagemeter/internal/config"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/grafana/pyroscope-go"
)

// Profiler streams continuous profiles to pyroscope. The zero value is a
// disabled profiler.
type Profiler struct {
	profiler *pyroscope.Profiler
}

func NewProfiler(cfg *config.Configuration, log *logger.Logger) (*Profiler, error) {
	if !cfg.Pyroscope.Enabled {
		return &Profiler{}, nil
	}

	tags := map[string]string{"mode": string(cfg.Deployment.Mode)}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		tags["hostname"] = hostname
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Pyroscope.ApplicationName,
		ServerAddress:   cfg.Pyroscope.ServerAddress,
		Logger:          &pyroscopeLogger{log: log},
		Tags:            tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to start the profiler").
			Mark(ierr.ErrSystem)
	}

	log.Infow("continuous profiling started", "server_address", cfg.Pyroscope.ServerAddress)
	return &Profiler{profiler: p}, nil
}

func (p *Profiler) Stop() error {
	if p.profiler == nil {
		return nil
	}
	return p.profiler.Stop()
}

type pyroscopeLogger struct {
	log *logger.Logger
}

func (l *pyroscopeLogger) Infof(format string, args ...interface{})  { l.log.Debugf(format, args...) }
func (l *pyroscopeLogger) Debugf(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *pyroscopeLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
