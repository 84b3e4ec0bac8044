// Package common contains value types shared between the analyzers and storage.
package common

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Arbitrary-precision integer. Wrapper around big.Int to allow for
// custom JSON marshaling and for storing u128 balances as NUMERIC.
type BigInt struct {
	big.Int
}

func NewBigInt(v int64) BigInt {
	return BigInt{*big.NewInt(v)}
}

// Plus returns b+other without modifying either operand.
func (b BigInt) Plus(other BigInt) BigInt {
	var sum BigInt
	sum.Int.Add(&b.Int, &other.Int)
	return sum
}

// IsZero returns true iff the value is exactly zero.
func (b BigInt) IsZero() bool {
	return b.Int.Sign() == 0
}

// Clone returns a deep copy.
func (b BigInt) Clone() BigInt {
	var c BigInt
	c.Int.Set(&b.Int)
	return c
}

func (b BigInt) String() string {
	return b.Int.String()
}

func (b BigInt) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BigInt) UnmarshalText(text []byte) error {
	return b.Int.UnmarshalText(text)
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, b.String())), nil
}

// UnmarshalJSON accepts both JSON numbers and decimal strings; chain
// decoders emit u128 values as strings since they overflow float64.
func (b *BigInt) UnmarshalJSON(text []byte) error {
	v := strings.Trim(string(text), "\"")
	return b.Int.UnmarshalJSON([]byte(v))
}

// ScanNumeric implements pgtype.NumericScanner.
func (b *BigInt) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid {
		return errors.New("NULL values can't be decoded. Scan into a **BigInt to handle NULLs")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("cannot convert %v to integer", n)
	}
	bigInt, err := numericToBigInt(n)
	if err != nil {
		return err
	}
	*b = bigInt
	return nil
}

// NumericValue implements pgtype.NumericValuer.
func (b BigInt) NumericValue() (pgtype.Numeric, error) {
	return pgtype.Numeric{Int: new(big.Int).Set(&b.Int), Exp: 0, Valid: true}, nil
}

// numericToBigInt converts a pgtype.Numeric into an integer, rejecting
// values with a fractional part.
func numericToBigInt(n pgtype.Numeric) (BigInt, error) {
	bi := new(big.Int).Set(n.Int)
	if n.Exp == 0 {
		return BigInt{Int: *bi}, nil
	}

	big10 := big.NewInt(10)
	if n.Exp > 0 {
		mul := new(big.Int).Exp(big10, big.NewInt(int64(n.Exp)), nil)
		bi.Mul(bi, mul)
		return BigInt{Int: *bi}, nil
	}

	div := new(big.Int).Exp(big10, big.NewInt(int64(-n.Exp)), nil)
	remainder := new(big.Int)
	bi.DivMod(bi, div, remainder)
	if remainder.Sign() != 0 {
		return BigInt{}, fmt.Errorf("cannot convert %v to integer", n)
	}
	return BigInt{Int: *bi}, nil
}
