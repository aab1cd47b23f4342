package rand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := Digits(6)
		assert.Len(t, code, 6)
		assert.Empty(t, strings.Trim(code, digits), "unexpected characters in %q", code)
	}
}

func TestStringWithSmall(t *testing.T) {
	s := StringWithSmall(32)
	assert.Len(t, s, 32)
	assert.Empty(t, strings.Trim(s, smallLetters))
	assert.NotEqual(t, s, StringWithSmall(32))
}

func TestZeroLength(t *testing.T) {
	assert.Equal(t, "", StringWithAll(0))
}
