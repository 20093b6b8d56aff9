package cmd

import (
	"context"
	"errors"

	"github.com/iksnae/pipeline-session/internal"
	"github.com/iksnae/pipeline-session/internal/transport"
)

// openEngine builds and opens an engine. When push is set and the push
// channel cannot be reached, the engine falls back to request/response only.
func openEngine(ctx context.Context, opts internal.EngineOptions, session, wsURL string, push bool) (*internal.Engine, error) {
	if push {
		opts.Transport = transport.NewWebSocketTransport(wsURL)
	}
	engine, err := internal.NewEngine(opts)
	if err != nil {
		return nil, err
	}

	err = engine.Open(ctx, session)
	var te *internal.TransportError
	if push && errors.As(err, &te) {
		internal.LogWarn("Push channel unavailable, using fallback only: %v", err)
		_ = engine.Close()
		opts.Transport = nil
		return openEngine(ctx, opts, session, wsURL, false)
	}
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return engine, nil
}
