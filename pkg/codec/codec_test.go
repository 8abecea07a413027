package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pullSpec struct {
	RepoPath string `yaml:"repo_path"`
	Remote   string `yaml:"remote"`
}

func TestDecode(t *testing.T) {
	c := New()
	require.NoError(t, Register[pullSpec](c, "git-pull"))

	doc := `type: git-pull
spec:
  repo_path: /srv/checkout
  remote: origin
`
	cfg, err := c.Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "git-pull", cfg.Tag)

	spec, ok := cfg.Value.(*pullSpec)
	require.True(t, ok, "decoded value should be *pullSpec, got %T", cfg.Value)
	assert.Equal(t, "/srv/checkout", spec.RepoPath)
	assert.Equal(t, "origin", spec.Remote)
}

func TestDecode_MissingSpecYieldsZeroValue(t *testing.T) {
	c := New()
	require.NoError(t, Register[pullSpec](c, "git-pull"))

	cfg, err := c.Decode([]byte("type: git-pull\n"))
	require.NoError(t, err)

	spec, ok := cfg.Value.(*pullSpec)
	require.True(t, ok)
	assert.Equal(t, pullSpec{}, *spec)
}

func TestDecode_Errors(t *testing.T) {
	c := New()
	require.NoError(t, Register[pullSpec](c, "git-pull"))

	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown tag", "type: no-such-job\n", ErrUnknownTag},
		{"missing tag", "spec:\n  repo_path: .\n", ErrMissingTag},
		{"blank tag", "type: \"  \"\n", ErrMissingTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := c.Decode([]byte(tt.doc))
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_MalformedBody(t *testing.T) {
	c := New()
	require.NoError(t, Register[pullSpec](c, "git-pull"))

	cfg, err := c.Decode([]byte("type: [unterminated\n"))
	assert.Nil(t, cfg)
	assert.Error(t, err)
}

func TestDecode_SpecTypeMismatch(t *testing.T) {
	c := New()
	require.NoError(t, Register[pullSpec](c, "git-pull"))

	// spec is a scalar where a mapping is required
	cfg, err := c.Decode([]byte("type: git-pull\nspec: 42\n"))
	assert.Nil(t, cfg)
	assert.Error(t, err)
}

func TestRegister_DuplicateTag(t *testing.T) {
	c := New()
	require.NoError(t, Register[pullSpec](c, "git-pull"))

	err := Register[pullSpec](c, "git-pull")
	assert.ErrorIs(t, err, ErrDuplicateTag)
}

func TestRegister_EmptyTag(t *testing.T) {
	c := New()
	assert.Error(t, Register[pullSpec](c, "   "))
}

func TestTagsAndKnown(t *testing.T) {
	c := New()
	require.NoError(t, Register[pullSpec](c, "git-pull"))
	require.NoError(t, Register[struct{}](c, "noop"))

	assert.Equal(t, []string{"git-pull", "noop"}, c.Tags())
	assert.True(t, c.Known("noop"))
	assert.False(t, c.Known("other"))
}

func TestIsUnknownTag(t *testing.T) {
	c := New()
	_, err := c.Decode([]byte("type: ghost\n"))
	assert.True(t, IsUnknownTag(err))
	assert.False(t, IsUnknownTag(ErrMissingTag))
}
