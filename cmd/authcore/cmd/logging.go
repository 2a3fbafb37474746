package cmd

import (
	auth "github.com/goliatone/go-authcore"
	"github.com/goliatone/go-logger/glog"
)

var rootLogger *glog.BaseLogger

func newLogger(verbose bool) *glog.BaseLogger {
	level := glog.Info
	if verbose {
		level = glog.Trace
	}
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("authcore"),
		glog.WithAddSource(false),
	)
}

// logger returns a named child of the CLI logger.
func logger(name string) glog.Logger {
	if rootLogger == nil {
		rootLogger = newLogger(false)
	}
	return rootLogger.GetLogger(name)
}

// loggerProvider hands glog children to the auth service.
func loggerProvider() auth.LoggerProvider {
	return auth.LoggerProviderFunc(func(name string) auth.Logger {
		return logger(name)
	})
}
