// Package classify implements the pure, pluggable timeout
// classification function used by C6: given command text, decide
// whether it qualifies for the extended timeout or the default one.
package classify

import (
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
)

// builtinLongRunning is the default long-list: commands whose output
// the debugger may take minutes to produce.
var builtinLongRunning = []*regexp.Regexp{
	regexp.MustCompile(`(?i)!analyze`),
	regexp.MustCompile(`(?i)lm\s*v`),  // verbose loaded-module enumeration
	regexp.MustCompile(`(?i)~\*\s*k`), // all-thread stacks
	regexp.MustCompile(`(?i)!locks`),
	regexp.MustCompile(`(?i)!heap\s+-s`),
}

// Rule is one operator-supplied CEL predicate evaluated over the `cmd`
// string variable. Rules are evaluated in order; the first whose
// predicate is true wins.
type Rule struct {
	Name string
	Expr string // CEL boolean expression over `cmd`, e.g. has_prefix(cmd, "!analyze")
}

// Classifier is a pure function of command text to a timeout class.
// Rules are compiled once at construction so Classify never returns a
// compile error; a malformed rule fails fast in New instead.
type Classifier struct {
	defaultTimeoutSeconds  float64
	extendedTimeoutSeconds float64
	programs               []cel.Program
}

// Options configures a Classifier.
type Options struct {
	DefaultTimeoutSeconds  float64
	ExtendedTimeoutSeconds float64
	Rules                  []Rule
}

// New compiles the operator-supplied CEL rules. Returns an
// InvalidInput error if any rule fails to compile or type-check as
// bool.
func New(opts Options) (*Classifier, error) {
	c := &Classifier{
		defaultTimeoutSeconds:  opts.DefaultTimeoutSeconds,
		extendedTimeoutSeconds: opts.ExtendedTimeoutSeconds,
	}
	if len(opts.Rules) == 0 {
		return c, nil
	}

	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}

	for _, rule := range opts.Rules {
		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, dbgerrors.Wrap(dbgerrors.KindInvalidInput, issues.Err(), "compile classifier rule "+rule.Name)
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, dbgerrors.New(dbgerrors.KindInvalidInput, "classifier rule "+rule.Name+" must evaluate to bool")
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, dbgerrors.Wrap(dbgerrors.KindInvalidInput, err, "build classifier program "+rule.Name)
		}
		c.programs = append(c.programs, prg)
	}

	return c, nil
}

// Classify returns the timeout duration (in seconds) command text
// qualifies for: the first matching operator CEL rule wins, else the
// built-in regex long-list, else the default.
func (c *Classifier) Classify(commandText string) float64 {
	for _, prg := range c.programs {
		out, _, err := prg.Eval(map[string]any{"cmd": commandText})
		if err != nil {
			continue // a misbehaving rule never blocks classification
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return c.extendedOrFallback()
		}
	}

	for _, re := range builtinLongRunning {
		if re.MatchString(commandText) {
			return c.extendedOrFallback()
		}
	}

	return c.defaultOrFallback()
}

func (c *Classifier) extendedOrFallback() float64 {
	if c.extendedTimeoutSeconds > 0 {
		return c.extendedTimeoutSeconds
	}
	return 600
}

func (c *Classifier) defaultOrFallback() float64 {
	if c.defaultTimeoutSeconds > 0 {
		return c.defaultTimeoutSeconds
	}
	return 90
}

// newCELEnv builds the CEL environment rules are compiled against:
// the `cmd` variable plus `has_prefix`/`contains_text` string helpers,
// since base CEL has no string-prefix builtin.
func newCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("cmd", cel.StringType),
		cel.Function("has_prefix",
			cel.Overload("has_prefix_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(hasPrefixBinding),
			),
		),
		cel.Function("contains_text",
			cel.Overload("contains_text_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(containsBinding),
			),
		),
	)
	if err != nil {
		return nil, dbgerrors.Wrap(dbgerrors.KindInvalidInput, err, "build CEL environment")
	}
	return env, nil
}

func hasPrefixBinding(lhs, rhs ref.Val) ref.Val {
	s, ok := lhs.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	prefix, ok := rhs.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	return types.Bool(strings.HasPrefix(s, prefix))
}

func containsBinding(lhs, rhs ref.Val) ref.Val {
	s, ok := lhs.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	substr, ok := rhs.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	return types.Bool(strings.Contains(s, substr))
}
