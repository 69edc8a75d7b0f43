package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateNickname(t *testing.T) {
	t.Parallel()

	for range 50 {
		name := GenerateNickname()
		assert.NotEmpty(t, name)

		hasNoun := false
		for _, n := range nicknameNouns {
			if strings.HasSuffix(name, n) {
				hasNoun = true
				break
			}
		}
		assert.True(t, hasNoun, name)
	}
}

func TestUniqueNickname(t *testing.T) {
	t.Parallel()

	first := GenerateNickname()
	name := uniqueNickname(func(s string) bool { return s == first })
	assert.NotEmpty(t, name)

	// 全部冲突时仍返回一个昵称
	name = uniqueNickname(func(string) bool { return true })
	assert.NotEmpty(t, name)
}
