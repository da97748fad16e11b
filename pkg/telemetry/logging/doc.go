// Package logging builds the structured logger used across Sluice.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON or text output at a configurable level
//   - Request ID, caller and resource fields lifted from the context
//   - Optional masking of caller IDs that look like API keys
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Format:        "json",
//	    RedactCallers: true,
//	})
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithCaller(ctx, "sk-live-abc123")
//	logger.InfoContext(ctx, "admission denied", "reason", "rate_limit")
//	// {"level":"INFO","msg":"admission denied","reason":"rate_limit",
//	//  "request_id":"req-123","caller":"sk-l***"}
//
// Components receive a *slog.Logger and scope it with Component:
//
//	log := logging.Component(logger, "server")
package logging
