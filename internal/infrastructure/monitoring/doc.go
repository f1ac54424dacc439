/*
Package monitoring provides sandbox metrics collection.

# Overview

This package implements Prometheus-based metrics for sandbox sessions, runs,
the script validator, the session pool, and scheduled experiments.

# Features

- Session lifecycle metrics (active, total)
- Run metrics (outcome and failure kind, duration, instruction steps, peak memory)
- Validator rejection counts by reason
- Pool availability
- Experiment run counts

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	session, err := sandbox.New("probe", cfg, sandbox.WithMetrics(metrics))

A nil *Metrics is valid and records nothing, so components accept it
unconditionally.

# Metrics Endpoint

Expose metrics via the standard Prometheus handler:

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
