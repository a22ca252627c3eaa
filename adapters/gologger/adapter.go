package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve picks provider > logger > nop for the named component.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ResolveForJob resolves the webhook job logger and returns the go-job
// bridges the reconcile worker hands to the queue runtime.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	var jobProvider job.LoggerProvider
	if resolvedProvider != nil {
		jobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	var jobLogger job.Logger
	if resolvedLogger != nil {
		jobLogger = job.GoLogger(resolvedLogger)
	}
	return resolvedProvider, resolvedLogger, jobProvider, jobLogger
}
