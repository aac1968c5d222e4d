package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/roboricindustries/caseflow/pkg/container"
	"github.com/roboricindustries/caseflow/pkg/schema"
)

// jsonMarker selects the container entries that are validated.
const jsonMarker = ".json"

// handle decides the reply for a matched message. Request problems become an
// invalid request reply; only infrastructure failures are returned as errors.
func (d *Dispatcher) handle(ctx context.Context, route Route, msg InboundMessage, log *slog.Logger) (ReplySpec, error) {
	switch route.Kind.Shape() {
	case ShapeStatic:
		return ReplySpec{Type: route.ReplyType}, nil

	case ShapeValidated:
		res, err := d.validatePayload(route, msg, log)
		if err != nil {
			return ReplySpec{}, err
		}
		if !res.Valid() {
			return d.invalid(res, log), nil
		}
		return ReplySpec{Type: route.ReplyType}, nil

	case ShapeChained:
		res, err := d.validatePayload(route, msg, log)
		if err != nil {
			return ReplySpec{}, err
		}
		if !res.Valid() {
			return d.invalid(res, log), nil
		}
		return d.answerWithResult(ctx, route, log)

	case ShapeResult:
		return d.answerWithResult(ctx, route, log)
	}
	return ReplySpec{}, fmt.Errorf("no handler for shape %s", route.Kind.Shape())
}

func (d *Dispatcher) invalid(res schema.Result, log *slog.Logger) ReplySpec {
	log.Info("invalid request", slog.Int("errors", len(res.Errors)))
	return ReplySpec{
		Type: d.catalog.InvalidRequestType,
		Attachment: &Attachment{
			Name: d.catalog.ErrorAttachment,
			Text: res.String(),
		},
	}
}

// answerWithResult loads the local result for route and validates it before
// it is sent.
func (d *Dispatcher) answerWithResult(ctx context.Context, route Route, log *slog.Logger) (ReplySpec, error) {
	data, err := d.results.Result(ctx, route.ResultName)
	if err != nil {
		return ReplySpec{}, err
	}
	text := string(data)
	res := d.validator.Validate(text, route.ResultSchema)
	if !res.Valid() {
		log.Warn("local result failed validation",
			slog.String("result", route.ResultName),
			slog.String("errors", res.String()),
		)
		return d.invalid(res, log), nil
	}
	return ReplySpec{
		Type: route.ReplyType,
		Attachment: &Attachment{
			Name: d.catalog.ResultAttachment,
			Text: text,
		},
	}, nil
}

// validatePayload walks the message container and validates every JSON entry
// against the route schema. Entries are handled in order and the last one
// decides. A container without JSON entries is valid.
func (d *Dispatcher) validatePayload(route Route, msg InboundMessage, log *slog.Logger) (schema.Result, error) {
	if !msg.HasPayload || msg.Open == nil {
		return schema.Result{Errors: []string{d.catalog.MissingContent}}, nil
	}

	rc, err := msg.Open()
	if err != nil {
		return schema.Result{}, fmt.Errorf("open payload: %w", err)
	}
	defer rc.Close()

	var res schema.Result
	status, err := container.Extract(rc, d.maxContainerBytes, func(e container.Entry) error {
		if !strings.Contains(e.Name, jsonMarker) {
			log.Info("attachment received", slog.String("entry", e.Name))
			return nil
		}
		b, err := io.ReadAll(e)
		if err != nil {
			return err
		}
		text := string(b)
		res = d.validator.Validate(text, route.Schema)
		log.Info("payload validated",
			append([]any{
				slog.String("entry", e.Name),
				slog.Bool("valid", res.Valid()),
			}, logFields(text, route.LogFields, res)...)...,
		)
		return nil
	})
	switch {
	case errors.Is(err, container.ErrCorrupt), errors.Is(err, container.ErrTooLarge):
		log.Warn("unreadable container", slog.Any("error", err))
		return schema.Result{Errors: []string{err.Error()}}, nil
	case err != nil:
		return schema.Result{}, fmt.Errorf("read payload: %w", err)
	}

	if status == container.DigestInvalid {
		log.Warn("container digest mismatch", slog.Bool("rejected", d.rejectInvalidDigest))
		if d.rejectInvalidDigest {
			return schema.Result{Errors: []string{"container digest verification failed"}}, nil
		}
	}
	return res, nil
}

// logFields copies the configured correlation keys out of a valid payload.
func logFields(text string, paths []string, res schema.Result) []any {
	if !res.Valid() || len(paths) == 0 {
		return nil
	}
	attrs := make([]any, 0, len(paths))
	for _, p := range paths {
		if v := gjson.Get(text, p); v.Exists() {
			attrs = append(attrs, slog.String(p, v.String()))
		}
	}
	return attrs
}
