package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/commerce/config"
)

func TestDisabledTracerRunsWork(t *testing.T) {
	tracer, err := NewTracer(config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, tracer.Application())

	called := false
	err = tracer.Trace(context.Background(), "work", map[string]interface{}{"k": "v"}, func(ctx context.Context) error {
		called = true
		defer Segment(ctx, "inner")()
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

func TestNilTracerPropagatesErrors(t *testing.T) {
	var tracer *Tracer
	boom := errors.New("boom")
	err := tracer.Trace(context.Background(), "work", nil, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	tracer.Close(0)
}

func TestMissingLicenseDisablesTracing(t *testing.T) {
	tracer, err := NewTracer(config.TracingConfig{Enabled: true})
	require.NoError(t, err)
	require.Nil(t, tracer.Application())
}
