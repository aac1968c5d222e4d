package pipeline

import (
	"errors"
	"fmt"

	"github.com/roboricindustries/caseflow/pkg/schema"
	politisk "github.com/roboricindustries/caseflow/pkg/schemas/politisk/v1"
)

// ErrIncompleteRegistry is returned when a catalog does not map every kind to
// exactly one inbound type.
var ErrIncompleteRegistry = errors.New("pipeline: incomplete registry")

// Route binds an inbound type tag to a kind and the documents it needs.
type Route struct {
	Kind Kind
	// Type is the exact, case-sensitive inbound type tag.
	Type string
	// Schema validates the inbound payload.
	Schema schema.Ref
	// ReplyType tags the success reply.
	ReplyType string
	// ResultName and ResultSchema locate the local result document.
	ResultName   string
	ResultSchema schema.Ref
	// LogFields are gjson paths copied from valid payloads into log lines.
	LogFields []string
}

// Catalog is the full set of wire names the dispatcher uses.
type Catalog struct {
	Routes             []Route
	InvalidRequestType string
	ErrorAttachment    string
	ResultAttachment   string
	MissingContent     string
}

// DefaultCatalog is the political case handling protocol.
func DefaultCatalog() Catalog {
	return Catalog{
		Routes: []Route{
			{
				Kind:         FetchCommittees,
				Type:         politisk.FetchCommitteesType,
				ReplyType:    politisk.CommitteesResultType,
				ResultName:   politisk.CommitteesResult,
				ResultSchema: politisk.CommitteesResultSchema,
			},
			{
				Kind:         FetchMeetingPlan,
				Type:         politisk.FetchMeetingPlanType,
				Schema:       politisk.FetchMeetingPlanSchema,
				ReplyType:    politisk.MeetingPlanResultType,
				ResultName:   politisk.MeetingPlanResult,
				ResultSchema: politisk.MeetingPlanResultSchema,
				LogFields:    []string{"utvalg.kode", "fraDato", "tilDato"},
			},
			{
				Kind:      SubmitCommitteeCase,
				Type:      politisk.SubmitCommitteeCaseType,
				Schema:    politisk.SubmitCommitteeCaseSchema,
				ReplyType: politisk.ReceivedType,
				LogFields: []string{"saksnummer.saksaar", "saksnummer.sakssekvensnummer", "utvalg"},
			},
			{
				Kind:      SubmitBriefingCase,
				Type:      politisk.SubmitBriefingCaseType,
				Schema:    politisk.SubmitBriefingCaseSchema,
				ReplyType: politisk.ReceivedType,
				LogFields: []string{"saksnummer.saksaar", "saksnummer.sakssekvensnummer", "utvalg"},
			},
			{
				Kind:      SubmitDelegatedDecision,
				Type:      politisk.SubmitDelegatedDecisionType,
				ReplyType: politisk.ReceivedType,
			},
		},
		InvalidRequestType: politisk.InvalidRequestType,
		ErrorAttachment:    politisk.ErrorAttachment,
		ResultAttachment:   politisk.ResultAttachment,
		MissingContent:     politisk.MissingContent,
	}
}

// Registry maps inbound type tags to routes. It is immutable once built.
type Registry struct {
	catalog Catalog
	byType  map[string]Route
}

// NewRegistry checks that every kind has exactly one route with the fields its
// shape needs, and that no two routes share a type tag.
func NewRegistry(c Catalog) (*Registry, error) {
	const op = "pipeline.NewRegistry"

	switch {
	case c.InvalidRequestType == "":
		return nil, fmt.Errorf("%s: invalid request type is empty", op)
	case c.ErrorAttachment == "":
		return nil, fmt.Errorf("%s: error attachment name is empty", op)
	case c.ResultAttachment == "":
		return nil, fmt.Errorf("%s: result attachment name is empty", op)
	case c.MissingContent == "":
		return nil, fmt.Errorf("%s: missing content text is empty", op)
	}

	byType := make(map[string]Route, len(c.Routes))
	byKind := make(map[Kind]bool, kindCount)
	for _, r := range c.Routes {
		if !r.Kind.valid() {
			return nil, fmt.Errorf("%s: route %q has unknown kind %d", op, r.Type, int(r.Kind))
		}
		if r.Type == "" {
			return nil, fmt.Errorf("%s: %s has no type tag", op, r.Kind)
		}
		if r.ReplyType == "" {
			return nil, fmt.Errorf("%s: %s has no reply type", op, r.Kind)
		}
		if byKind[r.Kind] {
			return nil, fmt.Errorf("%w: %s routed twice", ErrIncompleteRegistry, r.Kind)
		}
		if _, dup := byType[r.Type]; dup {
			return nil, fmt.Errorf("%s: type %q routed twice", op, r.Type)
		}
		shape := r.Kind.Shape()
		if shape.needsSchema() && r.Schema == "" {
			return nil, fmt.Errorf("%s: %s needs a payload schema", op, r.Kind)
		}
		if shape.needsResult() && (r.ResultName == "" || r.ResultSchema == "") {
			return nil, fmt.Errorf("%s: %s needs a result document and schema", op, r.Kind)
		}
		byKind[r.Kind] = true
		byType[r.Type] = r
	}
	for _, k := range Kinds() {
		if !byKind[k] {
			return nil, fmt.Errorf("%w: no route for %s", ErrIncompleteRegistry, k)
		}
	}
	return &Registry{catalog: c, byType: byType}, nil
}

// Lookup matches the type tag exactly.
func (r *Registry) Lookup(msgType string) (Route, bool) {
	route, ok := r.byType[msgType]
	return route, ok
}

// Catalog returns the catalog the registry was built from.
func (r *Registry) Catalog() Catalog { return r.catalog }

// Check verifies that every schema and result document the routes reference is
// available. It runs once at startup.
func (r *Registry) Check(v Validator, results ResultSource) error {
	for _, route := range r.catalog.Routes {
		var refs []schema.Ref
		for _, ref := range []schema.Ref{route.Schema, route.ResultSchema} {
			if ref != "" {
				refs = append(refs, ref)
			}
		}
		if err := v.Require(refs...); err != nil {
			return fmt.Errorf("pipeline: %s: %w", route.Kind, err)
		}
		if route.ResultName != "" && !results.Has(route.ResultName) {
			return fmt.Errorf("pipeline: %s: %w: %s", route.Kind, ErrResultNotFound, route.ResultName)
		}
	}
	return nil
}
