package pipeline_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/caseflow/pkg/container"
	"github.com/roboricindustries/caseflow/pkg/pipeline"
	"github.com/roboricindustries/caseflow/pkg/schema"
	"github.com/roboricindustries/caseflow/pkg/schemas/common"
)

const (
	planRequestType   = "request.fetch-plan.v1"
	submitCaseType    = "request.submit-case.v1"
	submitBriefType   = "request.submit-briefing.v1"
	fetchListType     = "request.fetch-committees.v1"
	delegatedType     = "request.delegated-decision.v1"
	receivedType      = "submit-case.received"
	planResultType    = "fetch-plan.result"
	listResultType    = "fetch-committees.result"
	invalidType       = "invalid-request"
	missingContent    = "missing content"
	errorAttachment   = "errors.txt"
	resultAttachment  = "result.json"
	planResultName    = "plan.json"
	listResultName    = "committees.json"
	planRequestSchema = "plan-request.schema.json"
	planResultSchema  = "plan-result.schema.json"
	caseSchema        = "case.schema.json"
	listSchema        = "committees.schema.json"
)

var testSchemas = fstest.MapFS{
	planRequestSchema: {Data: []byte(`{
		"type": "object",
		"required": ["committee", "from"],
		"properties": {
			"committee": { "type": "string", "minLength": 1 },
			"from": { "type": "string", "format": "date" }
		}
	}`)},
	planResultSchema: {Data: []byte(`{
		"type": "object",
		"required": ["meetings"],
		"properties": { "meetings": { "type": "array", "items": { "type": "string" } } }
	}`)},
	caseSchema: {Data: []byte(`{
		"type": "object",
		"required": ["title", "year"],
		"properties": {
			"title": { "type": "string", "minLength": 1 },
			"year": { "type": "integer" }
		}
	}`)},
	listSchema: {Data: []byte(`{
		"type": "array",
		"minItems": 1,
		"items": { "type": "string" }
	}`)},
}

const (
	validPlanRequest = `{"committee":"FSK","from":"2026-11-01"}`
	validCase        = `{"title":"Budget","year":2026}`
	planResult       = `{"meetings":["2026-11-05","2026-12-03"]}`
	listResult       = `["FSK","KST"]`
)

func testCatalog() pipeline.Catalog {
	return pipeline.Catalog{
		Routes: []pipeline.Route{
			{Kind: pipeline.FetchCommittees, Type: fetchListType, ReplyType: listResultType,
				ResultName: listResultName, ResultSchema: listSchema},
			{Kind: pipeline.FetchMeetingPlan, Type: planRequestType, Schema: planRequestSchema,
				ReplyType: planResultType, ResultName: planResultName, ResultSchema: planResultSchema,
				LogFields: []string{"committee"}},
			{Kind: pipeline.SubmitCommitteeCase, Type: submitCaseType, Schema: caseSchema, ReplyType: receivedType,
				LogFields: []string{"title", "year"}},
			{Kind: pipeline.SubmitBriefingCase, Type: submitBriefType, Schema: caseSchema, ReplyType: receivedType},
			{Kind: pipeline.SubmitDelegatedDecision, Type: delegatedType, ReplyType: receivedType},
		},
		InvalidRequestType: invalidType,
		ErrorAttachment:    errorAttachment,
		ResultAttachment:   resultAttachment,
		MissingContent:     missingContent,
	}
}

func testResults() fstest.MapFS {
	return fstest.MapFS{
		planResultName: {Data: []byte(planResult)},
		listResultName: {Data: []byte(listResult)},
	}
}

func loadValidator(t *testing.T) *schema.Validator {
	t.Helper()
	v, err := schema.Load(testSchemas, discardLogger())
	require.NoError(t, err)
	return v
}

// fakeDelivery records settle calls in order.
type fakeDelivery struct {
	mu       sync.Mutex
	events   []string
	replies  []common.Envelope
	defers   []error
	replyErr error
	ackErr   error
	block    bool
}

func (f *fakeDelivery) Reply(ctx context.Context, env common.Envelope) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.events = append(f.events, "reply")
	f.replies = append(f.replies, env)
	return nil
}

func (f *fakeDelivery) Ack() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.events = append(f.events, "ack")
	return nil
}

func (f *fakeDelivery) Defer(reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "defer")
	f.defers = append(f.defers, reason)
	return nil
}

func (f *fakeDelivery) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func (f *fakeDelivery) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// message builds an inbound message; without files it carries no payload.
func message(t *testing.T, id, msgType string, files ...container.File) (pipeline.InboundMessage, *fakeDelivery) {
	t.Helper()
	d := &fakeDelivery{}
	msg := pipeline.InboundMessage{ID: id, Type: msgType, Delivery: d}
	if len(files) > 0 {
		packed, err := container.Pack(files...)
		require.NoError(t, err)
		msg = withPayload(msg, packed)
	}
	return msg, d
}

func withPayload(msg pipeline.InboundMessage, packed []byte) pipeline.InboundMessage {
	msg.HasPayload = true
	msg.Open = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(packed)), nil
	}
	return msg
}

func jsonFile(name, text string) container.File {
	return container.File{Name: name, MimeType: "application/json", Data: []byte(text)}
}

// tamper rebuilds a packed container with one entry replaced, keeping the
// original manifests.
func tamper(t *testing.T, packed []byte, name, text string) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(packed), int64(len(packed)))
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		if f.Name == name {
			data = []byte(text)
		}
		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// attachmentText unpacks the single attachment of a reply.
func attachmentText(t *testing.T, env common.Envelope) (string, string) {
	t.Helper()
	var name, text string
	_, err := container.Extract(bytes.NewReader(env.Body), 0, func(e container.Entry) error {
		b, err := io.ReadAll(e)
		if err != nil {
			return err
		}
		name, text = e.Name, string(b)
		return nil
	})
	require.NoError(t, err)
	return name, text
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingHandler keeps every log record for inspection.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecorder() (*slog.Logger, func() []slog.Record) {
	h := recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), func() []slog.Record {
		h.mu.Lock()
		defer h.mu.Unlock()
		return append([]slog.Record(nil), *h.records...)
	}
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h recordingHandler) WithGroup(string) slog.Handler      { return h }
