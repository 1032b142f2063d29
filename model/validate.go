package model

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	"github.com/jmgilman/go/errors"
)

//go:embed schema.cue
var schemaSource string

// Schema evaluates payloads against compiled CUE definitions. A cue.Context
// is not safe for concurrent use, so evaluation is serialized.
type Schema struct {
	mu   sync.Mutex
	ctx  *cue.Context
	root cue.Value
}

// CompileSchema compiles CUE source holding the definitions referenced by
// the Parse and Validate functions.
func CompileSchema(src string) (*Schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(src, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeCUEBuildFailed, "compile model schema"),
			"details", cueerrors.Details(err, nil),
		)
	}
	return &Schema{ctx: ctx, root: root}, nil
}

var defaultSchema = sync.OnceValues(func() (*Schema, error) { return CompileSchema(schemaSource) })

// Default returns the embedded schema. It panics only if the embedded
// source does not compile, which the package tests rule out.
func Default() *Schema {
	s, err := defaultSchema()
	if err != nil {
		panic(err)
	}
	return s
}

// Check validates one JSON document against definition def (e.g. "#Client")
// and returns every failed constraint.
func (s *Schema) Check(def string, data []byte) []FieldError {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := s.root.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return []FieldError{{Message: fmt.Sprintf("unknown definition %s", def)}}
	}
	// strict JSON; CompileBytes would also accept CUE syntax
	expr, err := cuejson.Extract("payload.json", data)
	if err != nil {
		return []FieldError{{Message: "malformed document: " + firstMessage(err)}}
	}
	v := s.ctx.BuildExpr(expr)
	if err := v.Err(); err != nil {
		return []FieldError{{Message: "malformed document: " + firstMessage(err)}}
	}
	if err := schema.Unify(v).Validate(cue.Concrete(true), cue.Final(), cue.All()); err != nil {
		return issues(err)
	}
	return nil
}

func issues(err error) []FieldError {
	var out []FieldError
	seen := make(map[FieldError]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		fe := FieldError{Path: fieldPath(e.Path()), Message: fmt.Sprintf(format, args...)}
		// disjunctions report the same path once per branch
		if seen[fe] {
			continue
		}
		seen[fe] = true
		out = append(out, fe)
	}
	return out
}

func firstMessage(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	format, args := errs[0].Msg()
	return fmt.Sprintf(format, args...)
}

// fieldPath drops the definition selector and joins the rest with dots.
func fieldPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

// Result is the outcome of a validator: the decoded value when Issues is
// empty, the zero value otherwise.
type Result[T any] struct {
	Value    T
	Issues   []FieldError
	resource string
	input    bool
}

func (r Result[T]) OK() bool { return len(r.Issues) == 0 }

// Err returns a *ValidationError, or nil when r is OK.
func (r Result[T]) Err() error {
	if r.OK() {
		return nil
	}
	return &ValidationError{Resource: r.resource, Input: r.input, Issues: r.Issues}
}

// Unwrap returns the value or the validation error.
func (r Result[T]) Unwrap() (T, error) { return r.Value, r.Err() }

// Parse validates a server payload against def and decodes it.
func Parse[T any](s *Schema, def string, data []byte) Result[T] {
	res := Result[T]{resource: strings.TrimPrefix(def, "#")}
	if res.Issues = s.Check(def, data); len(res.Issues) > 0 {
		return res
	}
	if err := json.Unmarshal(data, &res.Value); err != nil {
		var zero T
		res.Value = zero
		res.Issues = []FieldError{{Message: "decode: " + err.Error()}}
	}
	return res
}

// ParseList validates a JSON array item by item; issue paths are prefixed
// with the item index.
func ParseList[T any](s *Schema, def string, data []byte) Result[[]T] {
	res := Result[[]T]{resource: strings.TrimPrefix(def, "#") + " list"}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		res.Issues = []FieldError{{Message: "expected a JSON array: " + err.Error()}}
		return res
	}
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		r := Parse[T](s, def, item)
		for _, is := range r.Issues {
			is.Path = joinPath(fmt.Sprint(i), is.Path)
			res.Issues = append(res.Issues, is)
		}
		out = append(out, r.Value)
	}
	if len(res.Issues) == 0 {
		res.Value = out
	}
	return res
}

func joinPath(prefix, p string) string {
	if p == "" {
		return prefix
	}
	return prefix + "." + p
}

// validateInput checks a form value before it is sent.
func validateInput[T any](def string, in T) Result[T] {
	res := Result[T]{Value: in, resource: strings.TrimPrefix(def, "#"), input: true}
	data, err := json.Marshal(in)
	if err != nil {
		res.Issues = []FieldError{{Message: "encode: " + err.Error()}}
		return res
	}
	res.Issues = Default().Check(def, data)
	return res
}

func ParseClient(data []byte) Result[Client]    { return Parse[Client](Default(), "#Client", data) }
func ParseClients(data []byte) Result[[]Client] { return ParseList[Client](Default(), "#Client", data) }
func ParseTicket(data []byte) Result[Ticket]    { return Parse[Ticket](Default(), "#Ticket", data) }
func ParseTickets(data []byte) Result[[]Ticket] { return ParseList[Ticket](Default(), "#Ticket", data) }
func ParseAttachment(data []byte) Result[Attachment] {
	return Parse[Attachment](Default(), "#Attachment", data)
}
func ParseComment(data []byte) Result[TicketComment] {
	return Parse[TicketComment](Default(), "#TicketComment", data)
}
func ParseComments(data []byte) Result[[]TicketComment] {
	return ParseList[TicketComment](Default(), "#TicketComment", data)
}
func ParseUser(data []byte) Result[User] { return Parse[User](Default(), "#User", data) }
func ParseLoginResponse(data []byte) Result[LoginResponse] {
	return Parse[LoginResponse](Default(), "#LoginResponse", data)
}
func ParseTokenResponse(data []byte) Result[TokenResponse] {
	return Parse[TokenResponse](Default(), "#TokenResponse", data)
}

func ValidateClientInput(in ClientInput) Result[ClientInput] { return validateInput("#ClientInput", in) }
func ValidateClientPatch(in ClientPatch) Result[ClientPatch] { return validateInput("#ClientPatch", in) }
func ValidateTicketInput(in TicketInput) Result[TicketInput] { return validateInput("#TicketInput", in) }
func ValidateTicketPatch(in TicketPatch) Result[TicketPatch] { return validateInput("#TicketPatch", in) }
func ValidateCommentInput(in CommentInput) Result[CommentInput] {
	return validateInput("#CommentInput", in)
}
func ValidateCredentials(in Credentials) Result[Credentials] {
	return validateInput("#Credentials", in)
}
