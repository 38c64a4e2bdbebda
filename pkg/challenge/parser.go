package challenge

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
)

const (
	challengeElementID = "anubis_challenge"
	versionElementID   = "anubis_version"
)

// Parse extracts a challenge descriptor from a response body. It
// returns ErrNoChallenge when the page is not gated, a *ParseError when
// the embedded descriptor is malformed, and an
// *UnsupportedAlgorithmError when the descriptor names an unknown
// algorithm. Parse never panics on malformed input.
func Parse(body []byte) (*Parsed, error) {
	if !bytes.Contains(body, []byte(challengeElementID)) {
		return nil, ErrNoChallenge
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Reason: "invalid html", Err: err}
	}

	raw := strings.TrimSpace(elementText(doc, challengeElementID))
	if raw == "" || raw == "null" {
		return nil, ErrNoChallenge
	}

	desc := &Descriptor{}
	if err := json.Unmarshal([]byte(raw), desc); err != nil {
		return nil, &ParseError{Reason: "invalid descriptor json", Err: err}
	}
	if desc.Challenge.RandomData == "" {
		return nil, &ParseError{Reason: "descriptor missing challenge data"}
	}
	if desc.Rules.Difficulty < 0 {
		return nil, &ParseError{Reason: "negative difficulty"}
	}

	switch desc.Algorithm() {
	case AlgoFast, AlgoSlow, AlgoPreact, AlgoMetaRefresh:
	default:
		return nil, &UnsupportedAlgorithmError{Algorithm: desc.Algorithm()}
	}

	version := "unknown"
	if v := strings.TrimSpace(elementText(doc, versionElementID)); v != "" {
		var s string
		if err := json.Unmarshal([]byte(v), &s); err == nil && s != "" {
			version = s
		}
	}

	return &Parsed{Descriptor: desc, Version: version}, nil
}

// elementText returns the concatenated text content of the first
// element with the given id, or "" when absent.
func elementText(n *html.Node, id string) string {
	if node := findByID(n, id); node != nil {
		var sb strings.Builder
		collectText(node, &sb)
		return sb.String()
	}
	return ""
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
