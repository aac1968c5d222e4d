package schema_test

import (
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/suite"

	"github.com/roboricindustries/caseflow/pkg/schema"
	politisk "github.com/roboricindustries/caseflow/pkg/schemas/politisk/v1"
)

const personSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "age"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "age": { "type": "integer", "minimum": 0 },
    "born": { "type": "string", "format": "date" }
  }
}`

type ValidatorSuite struct {
	suite.Suite
	v *schema.Validator
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	fsys := fstest.MapFS{
		"person.schema.json": {Data: []byte(personSchema)},
		"README.md":          {Data: []byte("not a schema")},
	}
	v, err := schema.Load(fsys, quietLogger())
	s.Require().NoError(err)
	s.v = v
}

func (s *ValidatorSuite) TestValidDocument() {
	res := s.v.Validate(`{"name":"Kari","age":41,"born":"1985-03-02"}`, "person.schema.json")
	s.True(res.Valid())
	s.Empty(res.String())
}

func (s *ValidatorSuite) TestMalformedJSONYieldsSingleError() {
	for name, text := range map[string]string{
		"truncated":     `{"name":`,
		"not json":      `hello`,
		"empty":         ``,
		"trailing data": `{"name":"a","age":1} {}`,
	} {
		s.Run(name, func() {
			res := s.v.Validate(text, "person.schema.json")
			s.Require().Len(res.Errors, 1)
			s.Contains(res.Errors[0], "invalid JSON")
		})
	}
}

func (s *ValidatorSuite) TestViolationsOnePerEntry() {
	res := s.v.Validate(`{"name":"","age":-1}`, "person.schema.json")
	s.Require().Len(res.Errors, 2)
	s.Contains(res.Errors[0], "/age")
	s.Contains(res.Errors[1], "/name")
	s.Contains(res.String(), "\n")
}

func (s *ValidatorSuite) TestFormatIsAsserted() {
	res := s.v.Validate(`{"name":"a","age":1,"born":"yesterday"}`, "person.schema.json")
	s.Require().Len(res.Errors, 1)
	s.Contains(res.Errors[0], "/born")
}

func (s *ValidatorSuite) TestRootErrorsUseSlash() {
	res := s.v.Validate(`[]`, "person.schema.json")
	s.Require().Len(res.Errors, 1)
	s.Regexp(`^/: `, res.Errors[0])
}

func (s *ValidatorSuite) TestDeterministic() {
	text := `{"name":"","age":"x","born":"?"}`
	first := s.v.Validate(text, "person.schema.json")
	for i := 0; i < 20; i++ {
		s.Equal(first, s.v.Validate(text, "person.schema.json"))
	}
}

func (s *ValidatorSuite) TestUnknownRef() {
	s.False(s.v.Has("missing.schema.json"))
	res := s.v.Validate(`{}`, "missing.schema.json")
	s.False(res.Valid())

	err := s.v.Require("person.schema.json", "missing.schema.json")
	s.ErrorIs(err, schema.ErrSchemaNotFound)
	s.ErrorContains(err, "missing.schema.json")
}

func (s *ValidatorSuite) TestRefsSkipsOtherFiles() {
	s.Equal([]schema.Ref{"person.schema.json"}, s.v.Refs())
}

func TestLoadRejectsBrokenSchema(t *testing.T) {
	fsys := fstest.MapFS{"bad.schema.json": {Data: []byte(`{"type": 12}`)}}
	_, err := schema.Load(fsys, quietLogger())
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestLoadRequiresDocuments(t *testing.T) {
	_, err := schema.Load(fstest.MapFS{}, quietLogger())
	if err == nil {
		t.Fatal("expected error for empty schema directory")
	}
}

func TestCatalogSchemas(t *testing.T) {
	v, err := schema.Load(politisk.Schemas(), quietLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := v.Require(
		politisk.FetchMeetingPlanSchema,
		politisk.MeetingPlanResultSchema,
		politisk.SubmitCommitteeCaseSchema,
		politisk.SubmitBriefingCaseSchema,
		politisk.CommitteesResultSchema,
	); err != nil {
		t.Fatal(err)
	}

	ok := v.Validate(`{"tittel":"Budsjett 2027","saksnummer":{"saksaar":2026,"sakssekvensnummer":14},"utvalg":"FSK"}`,
		politisk.SubmitCommitteeCaseSchema)
	if !ok.Valid() {
		t.Fatalf("expected valid case, got %q", ok.String())
	}

	bad := v.Validate(`{"tittel":"Budsjett 2027","utvalg":"FSK"}`, politisk.SubmitCommitteeCaseSchema)
	if len(bad.Errors) != 1 {
		t.Fatalf("expected one error, got %q", bad.Errors)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
