// Package challenge parses Anubis challenge descriptors out of gated
// HTML responses. A descriptor is immutable once parsed.
package challenge

import (
	"encoding/json"
	"fmt"
	"time"
)

// Supported challenge algorithms.
const (
	AlgoFast        = "fast"
	AlgoSlow        = "slow"
	AlgoPreact      = "preact"
	AlgoMetaRefresh = "metarefresh"
)

// Required wait per difficulty unit for the time-based algorithms.
const (
	preactWaitStep      = 80 * time.Millisecond
	metaRefreshWaitStep = 800 * time.Millisecond
)

// Payload is the challenge input data. Old gates inline it as a plain
// string; gates from August 2025 on send an object with an id and
// randomData field.
type Payload struct {
	ID         string
	RandomData string
}

// UnmarshalJSON accepts both payload formats.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &p.RandomData)
	}
	var obj struct {
		ID         string `json:"id"`
		RandomData string `json:"randomData"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.RandomData == "" {
		return fmt.Errorf("challenge payload missing randomData")
	}
	p.ID = obj.ID
	p.RandomData = obj.RandomData
	return nil
}

// Rules carries the server-set solve parameters.
type Rules struct {
	Difficulty int    `json:"difficulty"`
	Algorithm  string `json:"algorithm"`
}

// Descriptor is a parsed challenge.
type Descriptor struct {
	Challenge Payload `json:"challenge"`
	Rules     Rules   `json:"rules"`
}

// Algorithm returns the effective algorithm. Gates predating the
// algorithm field always mean fast.
func (d *Descriptor) Algorithm() string {
	if d.Rules.Algorithm == "" {
		return AlgoFast
	}
	return d.Rules.Algorithm
}

// IsPoW reports whether the descriptor names a proof-of-work algorithm
// rather than a time-based one.
func (d *Descriptor) IsPoW() bool {
	switch d.Algorithm() {
	case AlgoPreact, AlgoMetaRefresh:
		return false
	}
	return true
}

// MinWait returns the minimum delay the origin enforces between
// challenge issuance and redemption. Zero for proof-of-work algorithms.
func (d *Descriptor) MinWait() time.Duration {
	switch d.Algorithm() {
	case AlgoPreact:
		return time.Duration(d.Rules.Difficulty) * preactWaitStep
	case AlgoMetaRefresh:
		return time.Duration(d.Rules.Difficulty) * metaRefreshWaitStep
	}
	return 0
}

// Parsed couples a descriptor with the gate version advertised on the
// challenge page.
type Parsed struct {
	Descriptor *Descriptor
	Version    string
}
