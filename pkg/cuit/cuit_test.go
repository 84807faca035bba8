package cuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	t.Run("valid cuit", func(t *testing.T) {
		// 权重和 148，148 mod 11 = 5，校验位 11-5 = 6
		assert.True(t, IsValid("20123456786"))
		assert.True(t, IsValid(" 20123456786 "))
	})

	t.Run("wrong check digit", func(t *testing.T) {
		assert.False(t, IsValid("20123456780"))
		assert.False(t, IsValid("20123456785"))
	})

	t.Run("wrong length", func(t *testing.T) {
		assert.False(t, IsValid(""))
		assert.False(t, IsValid("2012345678"))
		assert.False(t, IsValid("201234567861"))
	})

	t.Run("non digit characters", func(t *testing.T) {
		assert.False(t, IsValid("20-12345678"))
		assert.False(t, IsValid("2012345678x"))
	})
}

func TestIsBlankOrZero(t *testing.T) {
	assert.True(t, IsBlankOrZero(""))
	assert.True(t, IsBlankOrZero("   "))
	assert.True(t, IsBlankOrZero("0"))
	assert.True(t, IsBlankOrZero("00000000000"))
	assert.False(t, IsBlankOrZero("20123456786"))
	assert.False(t, IsBlankOrZero("00000000001"))
}

func TestClassifyDocType(t *testing.T) {
	t.Run("valid cuit -> 80", func(t *testing.T) {
		assert.Equal(t, DocTypeCUIT, ClassifyDocType("20123456786", "0"))
	})

	t.Run("blank or zero doc -> 99", func(t *testing.T) {
		assert.Equal(t, DocTypeFinalConsumer, ClassifyDocType("", "0"))
		assert.Equal(t, DocTypeFinalConsumer, ClassifyDocType("00000000000", "0"))
	})

	t.Run("doc equal to configured final consumer marker -> 99", func(t *testing.T) {
		assert.Equal(t, DocTypeFinalConsumer, ClassifyDocType("99999999999", "99999999999"))
	})

	t.Run("invalid cuit falls back to dni -> 96", func(t *testing.T) {
		assert.Equal(t, DocTypeDNI, ClassifyDocType("20123456780", "0"))
		assert.Equal(t, DocTypeDNI, ClassifyDocType("12345678", "0"))
	})
}
