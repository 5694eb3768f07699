package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const DefaultSensitivity = 50

// Normalizer turns raw caller input into validated TransformRequests. It has
// no side effects and is safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate
}

func NewNormalizer() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

type check struct {
	field string
	value any
	rule  string
}

// Normalize parses raw parameters for raw.Op and validates them against the
// source asset.
func (n *Normalizer) Normalize(raw RawRequest, source ImageAsset) (TransformRequest, error) {
	op := Op(strings.ToLower(strings.TrimSpace(raw.Op)))
	if op == "" {
		return TransformRequest{}, ValidationError("op", "is required")
	}
	if !op.Known() {
		return TransformRequest{}, ValidationError("op", fmt.Sprintf("unsupported operation %q", raw.Op))
	}

	p := params(raw.Params)
	req := TransformRequest{Op: op}
	var err error

	switch op {
	case OpCompress:
		req.Quality, err = p.requiredInt("quality")
	case OpCompressToSize:
		req.TargetKB, err = p.requiredInt("target_kb")
	case OpResize:
		if req.Width, err = p.requiredInt("width"); err == nil {
			req.Height, err = p.requiredInt("height")
		}
	case OpCrop:
		var rect Rect
		for _, f := range []struct {
			key string
			dst *int
		}{
			{"x", &rect.X},
			{"y", &rect.Y},
			{"width", &rect.Width},
			{"height", &rect.Height},
		} {
			if *f.dst, err = p.requiredInt(f.key); err != nil {
				break
			}
		}
		req.Crop = &rect
	case OpConvert:
		var name string
		if name, err = p.requiredString("format"); err == nil {
			req.Format = ParseFormat(name)
		}
	case OpRotate:
		req.Degrees, err = p.requiredInt("degrees")
	case OpFlip:
		if req.Horizontal, err = p.optionalBool("horizontal"); err == nil {
			req.Vertical, err = p.optionalBool("vertical")
		}
	case OpBlur:
		req.Radius, err = p.requiredInt("radius")
	case OpRemoveBackground:
		var ok bool
		req.Sensitivity, ok, err = p.lookupInt("sensitivity")
		if err == nil && !ok {
			req.Sensitivity = DefaultSensitivity
		}
	case OpWatermark:
		text, _ := p.lookupString("text")
		position, _ := p.lookupString("position")
		req.Watermark = &Watermark{Text: text, Position: position}
	}
	if err != nil {
		return TransformRequest{}, err
	}

	return n.Validate(req, source)
}

// Validate checks an already typed request. Out-of-range values are rejected,
// never clamped. Flip and watermark pass through unchanged; they are refused
// at dispatch.
func (n *Normalizer) Validate(req TransformRequest, source ImageAsset) (TransformRequest, error) {
	var checks []check

	switch req.Op {
	case OpCompress:
		checks = append(checks, check{"quality", req.Quality, "gte=0,lte=100"})
	case OpCompressToSize:
		checks = append(checks, check{"target_kb", req.TargetKB, "gt=0"})
	case OpResize:
		checks = append(checks,
			check{"width", req.Width, fmt.Sprintf("gt=0,lte=%d", MaxDimension)},
			check{"height", req.Height, fmt.Sprintf("gt=0,lte=%d", MaxDimension)},
		)
	case OpCrop:
		if req.Crop == nil {
			return TransformRequest{}, ValidationError("crop", "is required")
		}
		checks = append(checks,
			check{"crop.x", req.Crop.X, "gte=0"},
			check{"crop.y", req.Crop.Y, "gte=0"},
			check{"crop.width", req.Crop.Width, "gt=0"},
			check{"crop.height", req.Crop.Height, "gt=0"},
		)
	case OpConvert:
		if !req.Format.Known() {
			return TransformRequest{}, ValidationError("format", "unknown format")
		}
	case OpRotate:
		checks = append(checks, check{"degrees", req.Degrees, "oneof=0 90 180 270"})
	case OpBlur:
		checks = append(checks, check{"radius", req.Radius, fmt.Sprintf("gte=0,lte=%d", MaxBlurRadius)})
	case OpRemoveBackground:
		checks = append(checks, check{"sensitivity", req.Sensitivity, fmt.Sprintf("gte=0,lte=%d", MaxSensitivity)})
	case OpFlip, OpWatermark:
	case "":
		return TransformRequest{}, ValidationError("op", "is required")
	default:
		return TransformRequest{}, ValidationError("op", fmt.Sprintf("unsupported operation %q", req.Op))
	}

	for _, c := range checks {
		if err := n.validate.Var(c.value, c.rule); err != nil {
			return TransformRequest{}, describe(c.field, err)
		}
	}

	if req.Op == OpCrop {
		if dims, ok := source.KnownDimensions(); ok {
			if req.Crop.X > dims.Width || req.Crop.Width > dims.Width-req.Crop.X {
				return TransformRequest{}, ValidationError("crop.width",
					fmt.Sprintf("x (%d) + width (%d) exceeds source width %d", req.Crop.X, req.Crop.Width, dims.Width))
			}
			if req.Crop.Y > dims.Height || req.Crop.Height > dims.Height-req.Crop.Y {
				return TransformRequest{}, ValidationError("crop.height",
					fmt.Sprintf("y (%d) + height (%d) exceeds source height %d", req.Crop.Y, req.Crop.Height, dims.Height))
			}
			req.BoundsUnchecked = false
		} else {
			req.BoundsUnchecked = true
		}
	}

	return req, nil
}

func describe(field string, err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Kind: KindValidation, Field: field, Message: "is invalid", Err: err}
	}

	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "gt":
		msg = "must be greater than " + fe.Param()
	case "gte":
		msg = "must be at least " + fe.Param()
	case "lte":
		msg = "must be at most " + fe.Param()
	case "oneof":
		msg = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		msg = "failed " + fe.Tag() + " check"
	}
	return ValidationError(field, fmt.Sprintf("%s, got %v", msg, fe.Value()))
}

type params map[string]any

func (p params) lookupInt(key string) (int, bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return 0, false, nil
	}

	switch v := raw.(type) {
	case int:
		return boundedInt(key, int64(v))
	case int64:
		return boundedInt(key, v)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, true, ValidationError(key, fmt.Sprintf("must be a whole number, got %v", v))
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, true, outOfRange(key, v)
		}
		return int(v), true, nil
	case json.Number:
		return parseInt(key, v.String())
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		return parseInt(key, v)
	default:
		return 0, true, ValidationError(key, fmt.Sprintf("must be a number, got %T", raw))
	}
}

func parseInt(key, s string) (int, bool, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return boundedInt(key, n)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, true, ValidationError(key, fmt.Sprintf("must be a whole number, got %q", s))
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, true, outOfRange(key, f)
	}
	return int(f), true, nil
}

// boundedInt keeps parameters inside int32 so later arithmetic cannot wrap.
func boundedInt(key string, n int64) (int, bool, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, true, outOfRange(key, n)
	}
	return int(n), true, nil
}

func outOfRange(key string, v any) *Error {
	return ValidationError(key, fmt.Sprintf("is out of range, got %v", v))
}

func (p params) requiredInt(key string) (int, error) {
	n, ok, err := p.lookupInt(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ValidationError(key, "is required")
	}
	return n, nil
}

func (p params) lookupString(key string) (string, bool) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprint(raw))
	return s, s != ""
}

func (p params) requiredString(key string) (string, error) {
	s, ok := p.lookupString(key)
	if !ok {
		return "", ValidationError(key, "is required")
	}
	return s, nil
}

func (p params) optionalBool(key string) (bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return false, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, ValidationError(key, fmt.Sprintf("must be true or false, got %q", v))
		}
		return b, nil
	default:
		return false, ValidationError(key, fmt.Sprintf("must be a boolean, got %T", raw))
	}
}
