// Package gologger resolves CRM loggers and bridges them to go-job.
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootName = "crm"

// Resolve picks provider, then logger, then a nop logger.
func Resolve(provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(RootName, provider, logger)
}

// Component returns the logger named crm.<component>.
func Component(provider glog.LoggerProvider, logger glog.Logger, component string) glog.Logger {
	resolvedProvider, resolved := Resolve(provider, logger)
	name := strings.Trim(strings.TrimSpace(component), ".")
	if name == "" || resolvedProvider == nil {
		return resolved
	}
	if named := resolvedProvider.GetLogger(RootName + "." + name); named != nil {
		return named
	}
	return resolved
}

// ForJobs returns go-job views of the resolved CRM logger and provider.
func ForJobs(provider glog.LoggerProvider, logger glog.Logger) (job.LoggerProvider, job.Logger) {
	resolvedProvider, resolved := Resolve(provider, logger)
	var jobProvider job.LoggerProvider
	if resolvedProvider != nil {
		jobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	var jobLogger job.Logger
	if resolved != nil {
		jobLogger = job.GoLogger(resolved)
	}
	return jobProvider, jobLogger
}
