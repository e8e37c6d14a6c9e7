package checked

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	sum, err := Add(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum)

	_, err = Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSub(t *testing.T) {
	diff, err := Sub(5, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), diff)

	_, err = Sub(3, 5)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMul(t *testing.T) {
	p, err := Mul(1<<32, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<63, p)

	_, err = Mul(1<<32, 1<<32)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, d uint64
		want    uint64
		wantErr bool
	}{
		{name: "fee floor", a: 1000, b: 250, d: 10000, want: 25},
		{name: "truncates", a: 7, b: 3, d: 2, want: 10},
		{name: "wide intermediate", a: math.MaxUint64, b: 10000, d: 10000, want: math.MaxUint64},
		{name: "divide by zero", a: 1, b: 1, d: 0, wantErr: true},
		{name: "quotient overflow", a: math.MaxUint64, b: 3, d: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.d)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOverflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestU128Uint64(t *testing.T) {
	v, err := Mul128(2, 3).Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), v)

	_, err = Mul128(math.MaxUint64, 2).Uint64()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulScalar(t *testing.T) {
	u, err := Mul128(1<<40, 1<<40).MulScalar(4)
	require.NoError(t, err)
	q, err := u.DivScalar(1 << 40)
	require.NoError(t, err)
	assert.Equal(t, uint64(4)<<40, q)
}
