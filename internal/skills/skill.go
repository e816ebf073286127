// Package skills defines self-contained analysis units over a profile snapshot:
// a bound-parameter SQL query, its parameter specs and a text formatter.
package skills

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/GindaChen/nsys-tui/internal/db"
	"github.com/GindaChen/nsys-tui/internal/errors"
)

// Parameter types.
const (
	TypeInt   = "int"
	TypeFloat = "float"
	TypeStr   = "str"
)

// Categories used by the builtin skills.
const (
	CategoryKernels       = "kernels"
	CategoryMemory        = "memory"
	CategoryNVTX          = "nvtx"
	CategoryCommunication = "communication"
	CategorySystem        = "system"
	CategoryUtility       = "utility"
)

// Param is one input a skill accepts.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default"`
}

// FormatFunc renders a result set as text. It must return a non-empty
// sentinel line for an empty result set.
type FormatFunc func(rows []Row) string

// Skill is one named analysis over a snapshot. Immutable once registered.
//
// SQL references parameters as :name placeholders, bound at execution time.
type Skill struct {
	Name        string     `json:"name"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	SQL         string     `json:"sql"`
	Params      []Param    `json:"params,omitempty"`
	Format      FormatFunc `json:"-"`
	Tags        []string   `json:"tags,omitempty"`
}

var (
	literalRe     = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"|\[[^\]]*\]|--[^\n]*|/\*[\s\S]*?\*/`)
	placeholderRe = regexp.MustCompile(`[:@$]([A-Za-z_][A-Za-z0-9_]*)`)
)

// placeholders returns the parameter names referenced by query, in order of
// first appearance. String literals, quoted identifiers and comments are ignored.
func placeholders(query string) []string {
	stripped := literalRe.ReplaceAllString(query, " ")
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(stripped, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Validate checks a skill definition: identity fields present, parameter
// names unique with known types, and every placeholder in SQL declared.
func (s *Skill) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.NewInvalidRequest("skill name is required")
	}
	if strings.TrimSpace(s.SQL) == "" {
		return errors.NewInvalidRequest(fmt.Sprintf("skill %q has no sql", s.Name))
	}

	declared := map[string]bool{}
	for _, p := range s.Params {
		if p.Name == "" {
			return errors.NewInvalidRequest(fmt.Sprintf("skill %q has a parameter without a name", s.Name))
		}
		if declared[p.Name] {
			return errors.NewInvalidRequest(fmt.Sprintf("skill %q declares parameter %q twice", s.Name, p.Name))
		}
		switch p.Type {
		case TypeInt, TypeFloat, TypeStr:
		default:
			return errors.NewInvalidRequest(fmt.Sprintf("skill %q parameter %q has unknown type %q", s.Name, p.Name, p.Type))
		}
		if p.Default != nil {
			if _, err := coerce(p, p.Default); err != nil {
				return errors.NewInvalidRequest(fmt.Sprintf("skill %q parameter %q default: %v", s.Name, p.Name, err))
			}
		}
		declared[p.Name] = true
	}

	for _, name := range placeholders(s.SQL) {
		if !declared[name] {
			return errors.NewInvalidRequest(fmt.Sprintf("skill %q references undeclared parameter %q", s.Name, name))
		}
	}
	return nil
}

// resolve picks each declared parameter's value: supplied, then default.
// Supplied values for undeclared names are ignored.
func (s *Skill) resolve(params map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Default == nil {
				if p.Required {
					return nil, errors.NewMissingRequiredParameter(s.Name, p.Name)
				}
				resolved[p.Name] = nil
				continue
			}
			v = p.Default
		}
		cv, err := coerce(p, v)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("skill %q parameter %q: %v", s.Name, p.Name, err))
		}
		resolved[p.Name] = cv
	}
	return resolved, nil
}

func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case TypeInt:
		return cast.ToInt64E(v)
	case TypeFloat:
		return cast.ToFloat64E(v)
	default:
		return cast.ToStringE(v)
	}
}

// Execute runs the skill without a deadline. See ExecuteContext.
func (s *Skill) Execute(q db.Querier, params map[string]any) ([]Row, error) {
	return s.ExecuteContext(context.Background(), q, params)
}

// ExecuteContext resolves parameters, runs the query with them bound by name
// and returns the rows in the query's column order. Query errors are returned
// unchanged, including those caused by tables this export does not have.
// Cancelling ctx interrupts a running query.
func (s *Skill) ExecuteContext(ctx context.Context, q db.Querier, params map[string]any) ([]Row, error) {
	resolved, err := s.resolve(params)
	if err != nil {
		return nil, err
	}

	var args []any
	for _, name := range placeholders(s.SQL) {
		args = append(args, sql.Named(name, resolved[name]))
	}

	rows, err := q.QueryContext(ctx, s.SQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, Row{Columns: cols, Values: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Failure converts an error from Execute or Run for display to a user.
// Structured errors and cancellations are returned as they are; anything
// else came from the query and becomes QUERY_FAILED with the driver text.
func Failure(s *Skill, err error) error {
	var nErr *errors.NsysError
	if err == nil || stderrors.As(err, &nErr) ||
		stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.NewQueryFailed(s.Name, err)
}

// Run executes the skill and formats the result with its formatter, or the
// default table formatter when it has none.
func (s *Skill) Run(q db.Querier, params map[string]any) (string, error) {
	return s.RunContext(context.Background(), q, params)
}

// RunContext is Run bound to ctx.
func (s *Skill) RunContext(ctx context.Context, q db.Querier, params map[string]any) (string, error) {
	rows, err := s.ExecuteContext(ctx, q, params)
	if err != nil {
		return "", err
	}
	if s.Format != nil {
		return s.Format(rows), nil
	}
	return FormatTable(s.Title, rows), nil
}

// Describe renders a one-line summary for tool catalogs:
//
//	[name] Title: description Parameters: limit (int, optional)
func (s *Skill) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", s.Name, s.Title, s.Description)
	if len(s.Params) > 0 {
		parts := make([]string, len(s.Params))
		for i, p := range s.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			parts[i] = fmt.Sprintf("%s (%s, %s)", p.Name, p.Type, req)
		}
		b.WriteString(" Parameters: ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}
