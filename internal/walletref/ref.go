// Package walletref handles parsing and validation of the wallet
// references vendors send on the wire. A reference names one
// (account, token) pair as {accountRef}:{TOKEN}, where accountRef is
// the vendor-side business identifier for the user.
package walletref

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// refRegex matches: {accountRef}:{TOKEN}
// Example: U-10293:RWD
var refRegex = regexp.MustCompile(`^([A-Za-z0-9_.-]+):([A-Za-z]{2,12})$`)

var (
	// ErrInvalidRef is returned when a reference does not match the
	// expected format.
	ErrInvalidRef = errors.New("walletref: invalid wallet reference format")
)

// Ref is a parsed wallet reference. Token is normalized to upper case.
type Ref struct {
	AccountRef string `json:"account_ref"`
	Token      string `json:"token"`
}

// Parse parses and validates a wallet reference string.
// Format: {accountRef}:{TOKEN}
func Parse(ref string) (*Ref, error) {
	matches := refRegex.FindStringSubmatch(ref)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {accountRef}:{TOKEN})", ErrInvalidRef, ref)
	}
	return &Ref{
		AccountRef: matches[1],
		Token:      strings.ToUpper(matches[2]),
	}, nil
}

// String formats the reference back into wire form.
func (r *Ref) String() string {
	return r.AccountRef + ":" + r.Token
}
