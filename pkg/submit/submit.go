// Package submit builds challenge redemption URLs. Pure construction,
// no I/O, so the wire format stays independently testable.
package submit

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gatelift/gatelift/pkg/challenge"
	"github.com/gatelift/gatelift/pkg/solver"
)

// Path is the well-known Anubis redemption endpoint, relative to the
// origin root.
const Path = ".within.website/x/cmd/anubis/api/pass-challenge"

// Build returns the redemption URL for a solved challenge. Parameter
// names and order follow the origin contract: the proof is submitted as
// "result" (preact), "challenge" (metarefresh), or "response"+"nonce"
// (proof of work), always followed by the URL-encoded original request
// URL, the elapsed solve time in milliseconds, and the challenge id
// when the gate issued one.
func Build(scheme, host string, desc *challenge.Descriptor, res *solver.Result, redirURL string, elapsedMS int64) string {
	base := fmt.Sprintf("%s://%s/%s", scheme, host, Path)
	redir := url.QueryEscape(redirURL)
	elapsed := strconv.FormatInt(elapsedMS, 10)

	var query string
	switch desc.Algorithm() {
	case challenge.AlgoPreact:
		query = "result=" + res.Hash + "&redir=" + redir + "&elapsedTime=" + elapsed
	case challenge.AlgoMetaRefresh:
		query = "challenge=" + url.QueryEscape(res.Hash) + "&redir=" + redir + "&elapsedTime=" + elapsed
	default:
		query = "response=" + res.Hash + "&nonce=" + strconv.FormatUint(res.Nonce, 10) +
			"&redir=" + redir + "&elapsedTime=" + elapsed
	}

	if desc.Challenge.ID != "" {
		query += "&id=" + url.QueryEscape(desc.Challenge.ID)
	}

	return base + "?" + query
}
