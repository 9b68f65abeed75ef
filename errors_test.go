package localba

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

func TestCheckDims(t *testing.T) {
	i22 := Identity(2)
	if err := checkDims(i22, "i22", 2, 2); err != nil {
		t.Fatalf("2x2 rejected: %s", err)
	}
	if err := checkDims(i22, "i22", 3, 3); err == nil {
		t.Fatal("2x2 accepted as 3x3")
	}
}

func TestCheckInputsReportsEveryMismatch(t *testing.T) {
	vis, err := NewVisibility([]int{0, 2}, []int{0, 4})
	if err != nil {
		t.Fatal(err)
	}
	err = checkInputs(vis, 1, 2, 3)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Len(t, multierr.Errors(err), 3)

	assert.NoError(t, checkInputs(vis, 2, 3, 5))

	empty, err := NewVisibility(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.ErrorIs(t, checkInputs(empty, 0, 0, 0), ErrShapeMismatch)
}
