package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTemplate(t *testing.T) {
	tests := []struct {
		template string
		want     []string
	}{
		{"train-0.tar", []string{"train-0.tar"}},
		{"train-{0..3}.tar.xz", []string{
			"train-0.tar.xz", "train-1.tar.xz", "train-2.tar.xz", "train-3.tar.xz"}},
		{"shard-{000..010..5}.tar", []string{
			"shard-000.tar", "shard-005.tar", "shard-010.tar"}},
		{"{1..2}/img-{7..8}.tgz", []string{
			"1/img-7.tgz", "1/img-8.tgz", "2/img-7.tgz", "2/img-8.tgz"}},
		{"single-{5..5}.tar", []string{"single-5.tar"}},
	}
	for _, test := range tests {
		got, err := ExpandTemplate(test.template)
		require.NoErrorf(t, err, "template %q", test.template)
		assert.Equalf(t, test.want, got, "template %q", test.template)
	}
}

func TestExpandTemplateErrors(t *testing.T) {
	for _, template := range []string{
		"train-{3..0}.tar",   // start > end
		"train-{0..3..0}.ta", // zero step
		"train-{0..3",        // unbalanced '{'
		"train-0..3}.tar",    // unbalanced '}'
		"a}b{0..1}.tar",      // stray '}' before a valid range
		"a{0..1}b{.tar",      // stray '{' after a valid range
		"train-{a..b}.tar",   // non-numeric
		"train-{0}.tar",      // not a range
		"train-{-2..3}.tar",  // negative start
	} {
		_, err := ExpandTemplate(template)
		assert.Errorf(t, err, "template %q should not parse", template)
	}
}
