package telemetry

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/commerce/config"
)

// Tracer wraps message consumption and command execution in New Relic
// background transactions. A nil or disabled Tracer runs the work untraced.
type Tracer struct {
	app *newrelic.Application
}

// NewTracer creates a new tracer
func NewTracer(cfg config.TracingConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{}, nil
	}
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return &Tracer{}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistribTracing),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}
	return &Tracer{app: app}, nil
}

// Application returns the New Relic application, nil when tracing is off.
func (t *Tracer) Application() *newrelic.Application {
	if t == nil {
		return nil
	}
	return t.app
}

// Trace runs fn inside a transaction named name. Attributes are attached to
// the transaction and a returned error is noticed on it.
func (t *Tracer) Trace(ctx context.Context, name string, attrs map[string]interface{}, fn func(ctx context.Context) error) error {
	if t == nil || t.app == nil {
		return fn(ctx)
	}

	txn := t.app.StartTransaction(name)
	defer txn.End()
	for k, v := range attrs {
		txn.AddAttribute(k, v)
	}

	err := fn(newrelic.NewContext(ctx, txn))
	if err != nil {
		txn.NoticeError(err)
	}
	return err
}

// Segment starts a segment on the transaction carried by ctx, if any.
func Segment(ctx context.Context, name string) func() {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		return func() {}
	}
	seg := txn.StartSegment(name)
	return seg.End
}

// Close flushes pending data to New Relic.
func (t *Tracer) Close(timeout time.Duration) {
	if t == nil || t.app == nil {
		return
	}
	t.app.Shutdown(timeout)
	log.Info().Msg("New Relic tracer shutdown")
}
