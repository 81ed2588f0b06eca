// Package policy provides the CEL-based output policy for the detection
// engine. The cycle-only default reflects the current business requirement;
// operators can widen or replace it with custom expressions without code
// changes.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Default expressions: only cycle detections are externally visible.
const (
	DefaultAccountExpr = "in_cycle"
	DefaultRingExpr    = `pattern_type == "cycle"`
)

// CEL evaluates compiled account and ring filter expressions. It implements
// scoring.Policy.
type CEL struct {
	accountExpr string
	ringExpr    string
	accountPrg  cel.Program
	ringPrg     cel.Program
}

// New compiles the configured policy expressions. Empty expressions fall
// back to the cycle-only defaults.
func New(cfg domain.PolicyConfig) (*CEL, error) {
	accountExpr := cfg.AccountExpr
	if accountExpr == "" {
		accountExpr = DefaultAccountExpr
	}
	ringExpr := cfg.RingExpr
	if ringExpr == "" {
		ringExpr = DefaultRingExpr
	}

	accountEnv, err := cel.NewEnv(
		cel.Variable("account_id", cel.StringType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("in_cycle", cel.BoolType),
		cel.Variable("patterns", cel.ListType(cel.StringType)),
		cel.Variable("ring_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account policy environment: %w", err)
	}

	ringEnv, err := cel.NewEnv(
		cel.Variable("ring_id", cel.StringType),
		cel.Variable("pattern_type", cel.StringType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("member_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ring policy environment: %w", err)
	}

	accountPrg, err := compileBool(accountEnv, accountExpr)
	if err != nil {
		return nil, fmt.Errorf("account policy %q: %w", accountExpr, err)
	}
	ringPrg, err := compileBool(ringEnv, ringExpr)
	if err != nil {
		return nil, fmt.Errorf("ring policy %q: %w", ringExpr, err)
	}

	return &CEL{
		accountExpr: accountExpr,
		ringExpr:    ringExpr,
		accountPrg:  accountPrg,
		ringPrg:     ringPrg,
	}, nil
}

// Default returns the cycle-only policy.
func Default() *CEL {
	pol, err := New(domain.PolicyConfig{})
	if err != nil {
		// The default expressions are constants; failing to compile them
		// is a build defect.
		panic(err)
	}
	return pol
}

// KeepAccount evaluates the account expression for one suspicion record.
func (p *CEL) KeepAccount(rec *domain.SuspicionRecord, inCycle bool) (bool, error) {
	patterns := make([]string, len(rec.DetectedPatterns))
	copy(patterns, rec.DetectedPatterns)

	out, _, err := p.accountPrg.Eval(map[string]any{
		"account_id": rec.AccountID,
		"score":      rec.SuspicionScore,
		"in_cycle":   inCycle,
		"patterns":   patterns,
		"ring_id":    rec.RingID,
	})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", p.accountExpr, err)
	}
	return out == types.True, nil
}

// KeepRing evaluates the ring expression for one fraud ring.
func (p *CEL) KeepRing(ring *domain.FraudRing) (bool, error) {
	out, _, err := p.ringPrg.Eval(map[string]any{
		"ring_id":      ring.RingID,
		"pattern_type": ring.PatternType,
		"risk_score":   ring.RiskScore,
		"member_count": len(ring.MemberAccounts),
	})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", p.ringExpr, err)
	}
	return out == types.True, nil
}

// Expressions returns the active account and ring expressions, for logging.
func (p *CEL) Expressions() (accountExpr, ringExpr string) {
	return p.accountExpr, p.ringExpr
}

func compileBool(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}
