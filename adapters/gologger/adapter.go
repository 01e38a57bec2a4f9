// Package gologger resolves component loggers and observers from the host's
// glog provider, and bridges them into go-job.
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-contact-sync/core"
)

const DefaultName = "contact-sync"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return glog.Resolve(name, provider, logger)
}

// Components builds one named observer per subsystem so sync, jobs and
// storage logs can be filtered apart.
type Components struct {
	Provider glog.LoggerProvider
	Metrics  core.MetricsRecorder
}

func NewComponents(provider glog.LoggerProvider, logger glog.Logger, metrics core.MetricsRecorder) Components {
	resolved, _ := Resolve(DefaultName, provider, logger)
	return Components{Provider: resolved, Metrics: metrics}
}

// Observer returns an observer whose logger is named component and whose
// metric names are prefixed with metricPrefix.
func (c Components) Observer(component string, metricPrefix string) core.Observer {
	var logger glog.Logger
	if c.Provider != nil {
		logger = c.Provider.GetLogger(strings.TrimSpace(component))
	}
	return core.NewObserver(metricPrefix, logger, c.Metrics)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the glog pair then returns the go-job bridges.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
