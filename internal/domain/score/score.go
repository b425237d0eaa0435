// Package score validates submitted scores and player tags.
package score

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/hiscore/internal/domain/model"
)

// Bounds of an acceptable score.
const (
	MinScore = 0
	MaxScore = 999_999
)

// maxExponent bounds literal exponents; anything larger is out of range anyway.
const maxExponent = 1000

// Rejection reasons returned to the caller verbatim.
const (
	ReasonScore  = "score must be an integer between 0 and 999999"
	ReasonPlayer = "player must be exactly 3 letters"
)

// Input holds the raw decoded JSON values of a submission body.
type Input struct {
	Score  any `json:"score"`
	Player any `json:"player"`
}

// Rejection is returned when a submission does not conform.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// IsRejection reports whether err carries a *Rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// candidate is the shape checked by the struct validator.
type candidate struct {
	Score  float64 `validate:"gte=0,lte=999999"`
	Player string  `validate:"len=3,alpha"`
}

// Validator checks submissions. It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks in and returns the normalised submission.
func (v *Validator) Validate(in Input) (model.Submission, error) {
	n, ok := number(in.Score)
	if !ok || n != math.Trunc(n) {
		return model.Submission{}, &Rejection{Reason: ReasonScore}
	}
	player, ok := in.Player.(string)
	if !ok {
		return model.Submission{}, &Rejection{Reason: ReasonPlayer}
	}

	c := candidate{Score: n, Player: player}
	if err := v.v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Field() == "Score" {
			return model.Submission{}, &Rejection{Reason: ReasonScore}
		}
		return model.Submission{}, &Rejection{Reason: ReasonPlayer}
	}

	return model.Submission{Score: int(n), Player: strings.ToUpper(player)}, nil
}

// ValidateValues is a convenience for already-typed values.
func (v *Validator) ValidateValues(score int, player string) (model.Submission, error) {
	return v.Validate(Input{Score: float64(score), Player: player})
}

func number(x any) (float64, bool) {
	switch n := x.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || !integralLiteral(n.String()) {
			return 0, false
		}
		return f, true
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// integralLiteral reports whether a JSON number literal denotes an integer
// exactly, without going through float64.
func integralLiteral(s string) bool {
	mant, exp := s, 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		e, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return false
		}
		mant, exp = s[:i], e
	}
	intPart, frac, _ := strings.Cut(strings.TrimPrefix(mant, "-"), ".")
	frac = strings.TrimRight(frac, "0")
	digits := strings.TrimLeft(intPart+frac, "0")
	if digits == "" {
		return true
	}
	if exp < -maxExponent || exp > maxExponent {
		return false
	}

	// value = digits * 10^(exp-len(frac))
	scale := len(frac) - exp
	if scale <= 0 {
		return true
	}
	trailing := len(digits) - len(strings.TrimRight(digits, "0"))
	return trailing >= scale
}
