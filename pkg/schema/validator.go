// Package schema validates JSON payloads against a fixed set of JSON Schema
// documents that are compiled once at startup.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// resourceBase prefixes every schema resource handed to the compiler.
const resourceBase = "schema://caseflow/"

// ErrSchemaNotFound is returned when a required schema was not loaded.
var ErrSchemaNotFound = errors.New("schema not found")

// Ref names a schema document, e.g. "sendutvalgssak.v1.schema.json".
type Ref string

// Result holds the validation errors for one payload. It is valid when empty.
type Result struct {
	Errors []string
}

func (r Result) Valid() bool { return len(r.Errors) == 0 }

// String joins the errors with newlines, the format used in error replies.
func (r Result) String() string { return strings.Join(r.Errors, "\n") }

// Validator holds compiled schemas. It is read-only after Load and safe for
// concurrent use.
type Validator struct {
	schemas map[Ref]*jsonschema.Schema
	log     *slog.Logger
}

// Load compiles every *.schema.json document at the root of fsys.
func Load(fsys fs.FS, logger *slog.Logger) (*Validator, error) {
	const op = "schema.Load"
	if logger == nil {
		logger = slog.Default()
	}

	names, err := fs.Glob(fsys, "*.schema.json")
	if err != nil {
		return nil, fmt.Errorf("%s: list schemas: %w", op, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: no schema documents found", op)
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%s: read %s: %w", op, name, err)
		}
		if err := compiler.AddResource(resourceBase+name, strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("%s: add %s: %w", op, name, err)
		}
	}

	v := &Validator{
		schemas: make(map[Ref]*jsonschema.Schema, len(names)),
		log:     logger.With("component", "schema"),
	}
	for _, name := range names {
		compiled, err := compiler.Compile(resourceBase + name)
		if err != nil {
			return nil, fmt.Errorf("%s: compile %s: %w", op, name, err)
		}
		v.schemas[Ref(path.Base(name))] = compiled
	}
	v.log.Info("schemas loaded", slog.Int("count", len(v.schemas)))
	return v, nil
}

// Has reports whether ref was loaded.
func (v *Validator) Has(ref Ref) bool {
	_, ok := v.schemas[ref]
	return ok
}

// Require returns an error naming the first ref that was not loaded.
func (v *Validator) Require(refs ...Ref) error {
	for _, ref := range refs {
		if !v.Has(ref) {
			return fmt.Errorf("%w: %s", ErrSchemaNotFound, ref)
		}
	}
	return nil
}

// Refs lists the loaded schemas in name order.
func (v *Validator) Refs() []Ref {
	refs := make([]Ref, 0, len(v.schemas))
	for ref := range v.schemas {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// Validate checks text against ref. Text that is not JSON at all yields a
// single error entry; every schema violation yields one entry.
func (v *Validator) Validate(text string, ref Ref) Result {
	compiled, ok := v.schemas[ref]
	if !ok {
		v.log.Error("validate against unknown schema", slog.String("schema", string(ref)))
		return Result{Errors: []string{fmt.Sprintf("%s: %s", ErrSchemaNotFound, ref)}}
	}

	if !gjson.Valid(text) {
		return Result{Errors: []string{"/: invalid JSON"}}
	}
	instance, err := decode(text)
	if err != nil {
		return Result{Errors: []string{"/: invalid JSON: " + err.Error()}}
	}

	err = compiled.Validate(instance)
	if err == nil {
		return Result{}
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return Result{Errors: []string{"/: " + err.Error()}}
	}
	return Result{Errors: messages(verr)}
}

func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// messages flattens the cause tree into its leaves. The engine walks object
// properties in map order, so leaves are sorted to keep output stable.
func messages(root *jsonschema.ValidationError) []string {
	var leaves []*jsonschema.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(root)

	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].KeywordLocation < leaves[j].KeywordLocation
	})

	out := make([]string, 0, len(leaves))
	for _, e := range leaves {
		loc := strings.TrimPrefix(e.InstanceLocation, "#")
		if loc == "" {
			loc = "/"
		}
		out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
	}
	return out
}
