package submit

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatelift/gatelift/pkg/challenge"
	"github.com/gatelift/gatelift/pkg/solver"
)

func TestBuildPoW(t *testing.T) {
	desc := &challenge.Descriptor{
		Challenge: challenge.Payload{RandomData: "abc123"},
		Rules:     challenge.Rules{Difficulty: 4, Algorithm: challenge.AlgoFast},
	}
	res := &solver.Result{Hash: "0000feed", Nonce: 42}

	got := Build("https", "example.com", desc, res, "https://example.com/docs?page=2", 1337)

	assert.Equal(t,
		"https://example.com/.within.website/x/cmd/anubis/api/pass-challenge"+
			"?response=0000feed&nonce=42"+
			"&redir=https%3A%2F%2Fexample.com%2Fdocs%3Fpage%3D2&elapsedTime=1337",
		got)
}

func TestBuildPreactWithID(t *testing.T) {
	desc := &challenge.Descriptor{
		Challenge: challenge.Payload{ID: "c9/a1", RandomData: "abc123"},
		Rules:     challenge.Rules{Difficulty: 2, Algorithm: challenge.AlgoPreact},
	}
	res := &solver.Result{Hash: "deadbeef"}

	got := Build("https", "example.com", desc, res, "https://example.com/", 160)

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "deadbeef", q.Get("result"))
	assert.Equal(t, "https://example.com/", q.Get("redir"))
	assert.Equal(t, "160", q.Get("elapsedTime"))
	assert.Equal(t, "c9/a1", q.Get("id"))
	assert.Empty(t, q.Get("nonce"))

	// Parameter order is part of the contract.
	assert.True(t, strings.Index(got, "result=") < strings.Index(got, "redir="))
	assert.True(t, strings.Index(got, "redir=") < strings.Index(got, "elapsedTime="))
	assert.True(t, strings.Index(got, "elapsedTime=") < strings.Index(got, "id="))
}

func TestBuildMetaRefresh(t *testing.T) {
	desc := &challenge.Descriptor{
		Challenge: challenge.Payload{RandomData: "echo me"},
		Rules:     challenge.Rules{Difficulty: 1, Algorithm: challenge.AlgoMetaRefresh},
	}
	res := &solver.Result{Hash: "echo me"}

	got := Build("http", "gate.test:8080", desc, res, "http://gate.test:8080/x", 800)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "gate.test:8080", u.Host)
	assert.Equal(t, "echo me", u.Query().Get("challenge"))
	assert.Empty(t, u.Query().Get("id"))
}
