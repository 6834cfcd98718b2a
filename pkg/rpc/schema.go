package rpc

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// reservedMethodNames can never be dispatched, regardless of what a Schema
// registers for them: constructor-ish
// and promise-ish names, plus anything starting with "_".
var reservedMethodNames = map[string]bool{
	"constructor": true,
	"then":        true,
	"catch":       true,
}

// MethodSpec is one dispatchable method of an exposed object: how to invoke
// it, and its per-argument/result redaction policy.
type MethodSpec struct {
	Name string

	// ArgsLoggable[i] == true means the i'th argument may be logged verbatim.
	// An argument beyond len(ArgsLoggable) defaults to redacted.
	ArgsLoggable []bool

	// ResultLoggable == true means the return value may be logged verbatim.
	ResultLoggable bool

	// Invoke calls the method on recv with the given positional arguments
	// and returns its result (or a synchronous failure as error).
	Invoke func(ctx context.Context, recv any, args []any) (any, error)
}

func (m MethodSpec) argLoggable(i int) bool {
	if i < 0 || i >= len(m.ArgsLoggable) {
		return false
	}
	return m.ArgsLoggable[i]
}

// Schema enumerates the dispatchable methods of an exposed object's class.
// One Schema is shared by every Target wrapping the same concrete type.
type Schema interface {
	Methods() map[string]MethodSpec
	// Lookup returns the MethodSpec for name, and whether it is dispatchable.
	Lookup(name string) (MethodSpec, bool)
}

// StaticSchema is a map-backed Schema built explicitly at registration time,
// in the same explicit-registration style used for middleware chains and
// route tables elsewhere in this codebase, rather than driving dispatch from
// runtime reflection. A
// StaticSchema still uses reflect once, at Build time, purely to verify the
// registered method actually exists on the receiver type — never at
// dispatch time.
type StaticSchema struct {
	methods map[string]MethodSpec
}

// NewSchemaBuilder starts building a Schema for the concrete type example
// (pass a zero value or nil pointer of the exposed type; only its
// reflect.Type is used, to validate method names at Build time).
func NewSchemaBuilder(example any) *SchemaBuilder {
	return &SchemaBuilder{
		recvType: reflect.TypeOf(example),
		methods:  make(map[string]MethodSpec),
	}
}

// SchemaBuilder accumulates MethodSpecs before handing back an immutable
// StaticSchema.
type SchemaBuilder struct {
	recvType reflect.Type
	methods  map[string]MethodSpec
	err      error
}

// Method registers a dispatchable method. spec.Name is the wire name
// (lowerCamelCase, e.g. "openDocument"); it's matched against the
// receiver's exported Go method by the same name capitalized (OpenDocument),
// Go's own convention for exporting an identifier. Names starting with "_",
// the constructor, then/catch, and any wire name with no corresponding
// exported method are rejected (panics at Build, not per-call).
func (b *SchemaBuilder) Method(spec MethodSpec) *SchemaBuilder {
	if b.err != nil {
		return b
	}
	if spec.Name == "" || spec.Name[0] == '_' || reservedMethodNames[spec.Name] {
		b.err = fmt.Errorf("schema: method name %q is not dispatchable", spec.Name)
		return b
	}
	if b.recvType != nil {
		recvType := b.recvType
		if recvType.Kind() != reflect.Ptr {
			recvType = reflect.PtrTo(recvType)
		}
		if !hasMethod(recvType, spec.Name) {
			b.err = fmt.Errorf("schema: %q has no method for wire name %q", b.recvType, spec.Name)
			return b
		}
	}
	b.methods[spec.Name] = spec
	return b
}

// Build finalizes the schema. It panics if an invalid method was registered,
// since a bad Schema registration is a programming error caught at process
// startup, not a per-request condition.
func (b *SchemaBuilder) Build() *StaticSchema {
	if b.err != nil {
		panic(b.err)
	}
	frozen := make(map[string]MethodSpec, len(b.methods))
	for k, v := range b.methods {
		frozen[k] = v
	}
	return &StaticSchema{methods: frozen}
}

// hasMethod reports whether recvType exports a method backing the wire name,
// trying the direct capitalization first (openDocument -> OpenDocument) and
// falling back to Go's initialism convention for common abbreviations
// (connectionId -> ConnectionID) since a wire name is plain camelCase but an
// exported Go method name for the same word is not.
func hasMethod(recvType reflect.Type, wireName string) bool {
	if _, ok := recvType.MethodByName(exportedName(wireName)); ok {
		return true
	}
	_, ok := recvType.MethodByName(fixInitialisms(exportedName(wireName)))
	return ok
}

// exportedName upper-cases the first rune of a wire method name to get the
// Go exported method name it's expected to be backed by.
func exportedName(wireName string) string {
	r := []rune(wireName)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// fixInitialisms upper-cases the common abbreviations Go style guides
// require be spelled in full caps (Id -> ID, Url -> URL, Api -> API).
func fixInitialisms(name string) string {
	for _, pair := range [][2]string{{"Id", "ID"}, {"Url", "URL"}, {"Api", "API"}} {
		if strings.HasSuffix(name, pair[0]) {
			name = strings.TrimSuffix(name, pair[0]) + pair[1]
		}
	}
	return name
}

func (s *StaticSchema) Methods() map[string]MethodSpec {
	return s.methods
}

func (s *StaticSchema) Lookup(name string) (MethodSpec, bool) {
	if name == "" || name[0] == '_' || reservedMethodNames[name] {
		return MethodSpec{}, false
	}
	spec, ok := s.methods[name]
	return spec, ok
}
