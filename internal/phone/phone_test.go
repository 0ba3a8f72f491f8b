package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"6281333852187", "6281333852187"},
		{"081333852187", "6281333852187"},
		{"+62 813-3385-2187", "6281333852187"},
		{"81333852187", "6281333852187"},
		{"6281333852187@c.us", "6281333852187"},
		{"6281333852187:12@s.whatsapp.net", "6281333852187"},
		{"14155550100", "14155550100"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "Normalize(%q)", tc.in)
	}
}

func TestLocalAndAlternatives(t *testing.T) {
	assert.Equal(t, "081333852187", Local("6281333852187"))
	assert.Equal(t, "", Local("14155550100"))

	assert.Equal(t,
		[]string{"6281333852187", "081333852187", "+6281333852187"},
		Alternatives("081333852187"),
	)
	assert.Equal(t, []string{"14155550100"}, Alternatives("14155550100"))
	assert.Nil(t, Alternatives("@c.us"))
}

func TestEquivalentFormsMatch(t *testing.T) {
	forms := []string{"6281333852187", "081333852187", "+6281333852187", "6281333852187@c.us"}
	for _, a := range forms {
		for _, b := range forms {
			assert.True(t, Equal(a, b), "%q vs %q", a, b)
		}
	}
	assert.False(t, Equal("", ""))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("081234"))
	assert.False(t, Valid("12345"))
	assert.False(t, Valid("status@broadcast"))
}
