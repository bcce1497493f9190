// Package fixed 提供确定性的二进制定点数运算。
//
// A Point stores raw/2^S in a signed 64-bit word. Every operation is checked:
// results that do not fit return ErrOverflow instead of wrapping, and every
// rounding step truncates toward zero. Intermediate products and shifted
// dividends are carried in 128 bits so that only the final result is
// range-checked.
package fixed

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

// MaxScale is the largest supported number of fractional bits.
const MaxScale Scale = 62

// Scale 表示小数部分的二进制位数 S（value = raw / 2^S）。
type Scale uint8

// Validate reports whether s is within [0, MaxScale].
func (s Scale) Validate() error {
	if s > MaxScale {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidScale, s, MaxScale)
	}
	return nil
}

// One returns the raw representation of 1.0 at this scale.
func (s Scale) One() int64 { return int64(1) << s }

// Point is an immutable fixed-point value.
type Point struct {
	raw   int64
	scale Scale
}

// New wraps an already-scaled raw integer.
func New(raw int64, s Scale) (Point, error) {
	if err := s.Validate(); err != nil {
		return Point{}, err
	}
	return Point{raw: raw, scale: s}, nil
}

// Zero returns 0 at scale s.
func Zero(s Scale) Point { return Point{scale: s} }

// FromInt converts an integer to scale s, failing if v·2^S does not fit.
func FromInt(v int64, s Scale) (Point, error) {
	if err := s.Validate(); err != nil {
		return Point{}, err
	}
	neg, mag := splitSign(v)
	return fromMagnitude(neg, uint128.From64(mag).Lsh(uint(s)), s)
}

// FromDecimal converts d to scale s, truncating toward zero.
func FromDecimal(d decimal.Decimal, s Scale) (Point, error) {
	if err := s.Validate(); err != nil {
		return Point{}, err
	}
	scaled := d.Mul(decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), uint(s)), 0)).BigInt()
	if !scaled.IsInt64() {
		return Point{}, fmt.Errorf("%w: %s at scale %d", ErrOverflow, d.String(), s)
	}
	return Point{raw: scaled.Int64(), scale: s}, nil
}

// Parse reads a decimal string such as "-12.5" at scale s.
func Parse(str string, s Scale) (Point, error) {
	d, err := decimal.NewFromString(str)
	if err != nil {
		return Point{}, fmt.Errorf("parse fixed-point %q: %w", str, err)
	}
	return FromDecimal(d, s)
}

// Raw 返回定点原始整数值（value·2^S）
func (p Point) Raw() int64 { return p.raw }

// Scale 返回小数位数 S
func (p Point) Scale() Scale { return p.scale }

// IsZero 是否为零
func (p Point) IsZero() bool { return p.raw == 0 }

// Sign 返回 -1、0 或 1
func (p Point) Sign() int { return cmpInt(p.raw, 0) }

// Equal 原始值与精度都相同才相等
func (p Point) Equal(q Point) bool { return p.raw == q.raw && p.scale == q.scale }

// Int returns the integer part, truncated toward zero.
func (p Point) Int() int64 {
	neg, mag := splitSign(p.raw)
	if neg {
		return -int64(mag >> p.scale)
	}
	return int64(mag >> p.scale)
}

// Decimal returns the exact decimal value raw/2^S (= raw·5^S / 10^S).
func (p Point) Decimal() decimal.Decimal {
	five := new(big.Int).Exp(big.NewInt(5), big.NewInt(int64(p.scale)), nil)
	return decimal.NewFromBigInt(five.Mul(five, big.NewInt(p.raw)), -int32(p.scale))
}

// Float64 is for display only.
func (p Point) Float64() float64 { return p.Decimal().InexactFloat64() }

// String 返回精确的十进制表示
func (p Point) String() string { return p.Decimal().String() }

// Cmp compares two points of the same scale.
func (p Point) Cmp(q Point) (int, error) {
	if err := p.sameScale(q); err != nil {
		return 0, err
	}
	return cmpInt(p.raw, q.raw), nil
}

// Add 检查溢出的加法
func (p Point) Add(q Point) (Point, error) {
	if err := p.sameScale(q); err != nil {
		return Point{}, err
	}
	sum := p.raw + q.raw
	if (q.raw > 0 && sum < p.raw) || (q.raw < 0 && sum > p.raw) {
		return Point{}, fmt.Errorf("%w: %s + %s", ErrOverflow, p, q)
	}
	return Point{raw: sum, scale: p.scale}, nil
}

// Sub 检查溢出的减法
func (p Point) Sub(q Point) (Point, error) {
	if err := p.sameScale(q); err != nil {
		return Point{}, err
	}
	diff := p.raw - q.raw
	if (q.raw < 0 && diff < p.raw) || (q.raw > 0 && diff > p.raw) {
		return Point{}, fmt.Errorf("%w: %s - %s", ErrOverflow, p, q)
	}
	return Point{raw: diff, scale: p.scale}, nil
}

// Neg 取反；MinInt64 取反溢出
func (p Point) Neg() (Point, error) {
	if p.raw == math.MinInt64 {
		return Point{}, fmt.Errorf("%w: negate %s", ErrOverflow, p)
	}
	return Point{raw: -p.raw, scale: p.scale}, nil
}

// Abs 绝对值；MinInt64 溢出
func (p Point) Abs() (Point, error) {
	if p.raw < 0 {
		return p.Neg()
	}
	return p, nil
}

// Mul computes p·q, forming the exact 128-bit product before shifting
// back to scale S.
func (p Point) Mul(q Point) (Point, error) {
	if err := p.sameScale(q); err != nil {
		return Point{}, err
	}
	pn, pm := splitSign(p.raw)
	qn, qm := splitSign(q.raw)
	prod := uint128.From64(pm).Mul64(qm).Rsh(uint(p.scale))
	out, err := fromMagnitude(pn != qn, prod, p.scale)
	if err != nil {
		return Point{}, fmt.Errorf("%s * %s: %w", p, q, err)
	}
	return out, nil
}

// Div computes p/q as (|p|·2^S)/|q| truncated toward zero.
func (p Point) Div(q Point) (Point, error) {
	if err := p.sameScale(q); err != nil {
		return Point{}, err
	}
	if q.raw == 0 {
		return Point{}, fmt.Errorf("%w: %s / 0", ErrDivisionByZero, p)
	}
	pn, pm := splitSign(p.raw)
	qn, qm := splitSign(q.raw)
	quo := uint128.From64(pm).Lsh(uint(p.scale)).Div64(qm)
	out, err := fromMagnitude(pn != qn, quo, p.scale)
	if err != nil {
		return Point{}, fmt.Errorf("%s / %s: %w", p, q, err)
	}
	return out, nil
}

// DivInt divides by a plain integer, truncating toward zero.
func (p Point) DivInt(n int64) (Point, error) {
	if n == 0 {
		return Point{}, fmt.Errorf("%w: %s / 0", ErrDivisionByZero, p)
	}
	pn, pm := splitSign(p.raw)
	nn, nm := splitSign(n)
	return fromMagnitude(pn != nn, uint128.From64(pm/nm), p.scale)
}

// Sqrt returns ⌊√p⌋ at the same scale using Sqrt128 with a fixed number
// of Newton iterations.
func (p Point) Sqrt(iterations int) (Point, error) {
	return p.SqrtTo(p.scale, iterations)
}

// SqrtTo returns ⌊√p⌋ at scale s. p.scale must lie in [s, 2s]; a point at
// scale 2s yields its root at scale s with no rounding before the root.
func (p Point) SqrtTo(s Scale, iterations int) (Point, error) {
	if p.raw < 0 {
		return Point{}, fmt.Errorf("%w: %s", ErrNegativeSqrt, p)
	}
	if p.scale < s || uint(p.scale) > 2*uint(s) {
		return Point{}, fmt.Errorf("%w: sqrt of scale %d into scale %d", ErrScaleMismatch, p.scale, s)
	}
	root := Sqrt128(uint128.From64(uint64(p.raw)).Lsh(2*uint(s)-uint(p.scale)), iterations)
	return fromMagnitude(false, root, s)
}

// Square 计算 p² 并截断到精度 to（p.scale ≤ to ≤ 2·p.scale）。
// to = 2·p.scale 时结果是精确的。
func (p Point) Square(to Scale) (Point, error) {
	if err := to.Validate(); err != nil {
		return Point{}, err
	}
	if to < p.scale || uint(to) > 2*uint(p.scale) {
		return Point{}, fmt.Errorf("%w: square of scale %d into scale %d", ErrScaleMismatch, p.scale, to)
	}
	_, m := splitSign(p.raw)
	sq := uint128.From64(m).Mul64(m).Rsh(2*uint(p.scale) - uint(to))
	out, err := fromMagnitude(false, sq, to)
	if err != nil {
		return Point{}, fmt.Errorf("(%s)^2: %w", p, err)
	}
	return out, nil
}

func (p Point) sameScale(q Point) error {
	if p.scale != q.scale {
		return fmt.Errorf("%w: %d vs %d", ErrScaleMismatch, p.scale, q.scale)
	}
	return nil
}

// FromMagnitude builds a point from a sign and an unsigned 128-bit
// magnitude, failing when it does not fit in int64.
func FromMagnitude(neg bool, mag uint128.Uint128, s Scale) (Point, error) {
	if err := s.Validate(); err != nil {
		return Point{}, err
	}
	return fromMagnitude(neg, mag, s)
}

func fromMagnitude(neg bool, mag uint128.Uint128, s Scale) (Point, error) {
	if mag.Hi != 0 {
		return Point{}, fmt.Errorf("%w: magnitude %s", ErrOverflow, mag)
	}
	switch {
	case mag.Lo <= math.MaxInt64:
		if neg {
			return Point{raw: -int64(mag.Lo), scale: s}, nil
		}
		return Point{raw: int64(mag.Lo), scale: s}, nil
	case neg && mag.Lo == 1<<63:
		return Point{raw: math.MinInt64, scale: s}, nil
	default:
		return Point{}, fmt.Errorf("%w: magnitude %s", ErrOverflow, mag)
	}
}

// splitSign returns the sign and absolute value of v; |MinInt64| is 2^63.
func splitSign(v int64) (bool, uint64) {
	if v < 0 {
		return true, uint64(-(v + 1)) + 1
	}
	return false, uint64(v)
}

// Magnitude returns the sign and the absolute raw value of p.
func (p Point) Magnitude() (bool, uint64) { return splitSign(p.raw) }

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
