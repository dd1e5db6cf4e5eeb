package main

import (
	"context"

	"github.com/jingkaihe/switchboard/pkg/telemetry"
	"github.com/jingkaihe/switchboard/pkg/version"
)

func initTracing(ctx context.Context) (telemetry.ShutdownFunc, error) {
	return telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "switchboard",
		ServiceVersion: version.Get().Version,
		SamplerType:    cfg.Tracing.SamplerType,
		SamplerRatio:   cfg.Tracing.SamplerRatio,
	})
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	flags.String("tracing-sampler", "ratio", "Tracing sampler type (always, never, ratio)")
	flags.Float64("tracing-ratio", 1, "Sampling ratio when using ratio sampler")

	bindFlags(flags, map[string]string{
		"tracing.enabled": "tracing-enabled",
		"tracing.sampler": "tracing-sampler",
		"tracing.ratio":   "tracing-ratio",
	})
}
