package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelection(t *testing.T) {
	tt := []struct {
		expr     string
		n        int
		expected []int
	}{
		{"1,3-5,7", 10, []int{1, 3, 4, 5, 7}},
		{"2-2", 10, []int{2}},
		{"all", 10, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{"", 10, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{"3", 3, []int{3}},
		{"1,1,1", 5, []int{1}},
		{" 1 , 2 ", 2, []int{1, 2}},
		{"1-3,2-4", 5, []int{1, 2, 3, 4}},
	}
	for _, tc := range tt {
		got, err := ParseSelection(tc.expr, tc.n)
		require.NoErrorf(t, err, "expr %q", tc.expr)
		assert.Equalf(t, tc.expected, got, "expr %q", tc.expr)
	}
}

func TestParseSelectionReversedRange(t *testing.T) {
	_, err := ParseSelection("5-3", 10)
	require.Error(t, err)
	var rangeErr *ErrInvalidRange
	assert.True(t, errors.As(err, &rangeErr))
}

func TestParseSelectionInvalid(t *testing.T) {
	for _, expr := range []string{
		"0",
		"11",
		"abc",
		"1,abc",
		"1,,2",
		"1-",
		"-3",
	} {
		_, err := ParseSelection(expr, 10)
		require.Errorf(t, err, "expr %q", expr)
		var selErr *ErrInvalidSelection
		assert.Truef(t, errors.As(err, &selErr), "expr %q should classify as ErrInvalidSelection", expr)
	}
}

func TestParseSelectionEmptyAvailable(t *testing.T) {
	_, err := ParseSelection("all", 0)
	require.Error(t, err)
}
