package challenge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatedPage(descriptor, version string) []byte {
	page := `<!DOCTYPE html><html><head><title>Making sure you're not a bot!</title>` +
		`<script id="anubis_challenge" type="application/json">` + descriptor + `</script>`
	if version != "" {
		page += `<script id="anubis_version" type="application/json">` + version + `</script>`
	}
	page += `</head><body><main>Checking your browser...</main></body></html>`
	return []byte(page)
}

func TestParseObjectChallenge(t *testing.T) {
	body := gatedPage(
		`{"challenge":{"id":"c9a1","randomData":"deadbeefcafe"},"rules":{"difficulty":4,"algorithm":"fast"}}`,
		`"1.21.3"`,
	)

	parsed, err := Parse(body)
	require.NoError(t, err)

	desc := parsed.Descriptor
	assert.Equal(t, "c9a1", desc.Challenge.ID)
	assert.Equal(t, "deadbeefcafe", desc.Challenge.RandomData)
	assert.Equal(t, 4, desc.Rules.Difficulty)
	assert.Equal(t, AlgoFast, desc.Algorithm())
	assert.True(t, desc.IsPoW())
	assert.Equal(t, "1.21.3", parsed.Version)
}

func TestParseStringChallenge(t *testing.T) {
	body := gatedPage(
		`{"challenge":"deadbeefcafe","rules":{"difficulty":2,"algorithm":"preact"}}`,
		"",
	)

	parsed, err := Parse(body)
	require.NoError(t, err)

	desc := parsed.Descriptor
	assert.Empty(t, desc.Challenge.ID)
	assert.Equal(t, "deadbeefcafe", desc.Challenge.RandomData)
	assert.Equal(t, AlgoPreact, desc.Algorithm())
	assert.False(t, desc.IsPoW())
	assert.Equal(t, "unknown", parsed.Version)
}

func TestParseMissingAlgorithmDefaultsToFast(t *testing.T) {
	body := gatedPage(`{"challenge":"deadbeef","rules":{"difficulty":4}}`, "")

	parsed, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, AlgoFast, parsed.Descriptor.Algorithm())
}

func TestParseNoChallenge(t *testing.T) {
	cases := map[string][]byte{
		"plain page":       []byte(`<html><body>Hello</body></html>`),
		"empty body":       {},
		"null descriptor":  gatedPage("null", ""),
		"empty descriptor": gatedPage("", ""),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(body)
			assert.ErrorIs(t, err, ErrNoChallenge)
		})
	}
}

func TestParseMalformedDescriptor(t *testing.T) {
	cases := map[string][]byte{
		"truncated json":      gatedPage(`{"challenge":`, ""),
		"missing random data": gatedPage(`{"challenge":{"id":"x"},"rules":{"difficulty":4,"algorithm":"fast"}}`, ""),
		"negative difficulty": gatedPage(`{"challenge":"deadbeef","rules":{"difficulty":-2,"algorithm":"fast"}}`, ""),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(body)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestParseUnsupportedAlgorithm(t *testing.T) {
	body := gatedPage(`{"challenge":"deadbeef","rules":{"difficulty":4,"algorithm":"argon2"}}`, "")

	_, err := Parse(body)
	var ua *UnsupportedAlgorithmError
	require.True(t, errors.As(err, &ua))
	assert.Equal(t, "argon2", ua.Algorithm)
}

func TestParseVersionFallback(t *testing.T) {
	// A version element that is not a JSON string falls back to
	// "unknown" rather than failing the parse.
	body := gatedPage(`{"challenge":"deadbeef","rules":{"difficulty":1,"algorithm":"metarefresh"}}`, `{{broken`)

	parsed, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "unknown", parsed.Version)
}

func TestMinWait(t *testing.T) {
	preact := &Descriptor{Rules: Rules{Difficulty: 3, Algorithm: AlgoPreact}}
	assert.Equal(t, 240*time.Millisecond, preact.MinWait())

	meta := &Descriptor{Rules: Rules{Difficulty: 2, Algorithm: AlgoMetaRefresh}}
	assert.Equal(t, 1600*time.Millisecond, meta.MinWait())

	pow := &Descriptor{Rules: Rules{Difficulty: 4, Algorithm: AlgoFast}}
	assert.Zero(t, pow.MinWait())
}
