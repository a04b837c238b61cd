// Package identity derives the LogicalIdentity of a design file.
//
// Normalization is a frozen contract: every identity persisted in a store
// was produced by one set of Rules, and changing them would silently split
// or merge parts. Rules therefore carry a Fingerprint that the store
// records on first write and checks on every open.
package identity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/partnum/internal/part"
)

// ruleVersion changes whenever the base algorithm below changes.
const ruleVersion = "v1"

// versionSuffix matches trailing revision markers such as "_v2", " rev3"
// or "-V10" once case has been folded. A separator is required so that
// names ending in "v2" as part of a word are left alone.
var versionSuffix = regexp.MustCompile(`[\s_.\-]+(v|rev)\d+$`)

// Rules are the optional normalization steps. The zero value is the
// default rule set: strip extension, fold case, collapse whitespace.
type Rules struct {
	// StripSeparators collapses runs of '-', '_', '.' and whitespace to a
	// single '-', so "Bracket_Left" and "bracket left" share an identity.
	StripSeparators bool `json:"stripSeparators"`

	// StripVersionSuffix drops trailing "_v2" / "-rev3" style markers,
	// so "part_v2" and "part" share an identity.
	StripVersionSuffix bool `json:"stripVersionSuffix"`
}

// Fingerprint identifies the rule set. Stores built with one fingerprint
// refuse to open with another.
func (r Rules) Fingerprint() string {
	return fmt.Sprintf("%s;nfc;casefold;ws=collapse;sep=%s;ver=%s",
		ruleVersion, onOff(r.StripSeparators), onOff(r.StripVersionSuffix))
}

// Normalizer maps filenames to logical identities. It is stateless and
// safe for concurrent use.
type Normalizer struct {
	rules Rules
}

// New returns a Normalizer applying rules.
func New(rules Rules) *Normalizer {
	return &Normalizer{rules: rules}
}

// Default returns a Normalizer with the default rule set.
func Default() *Normalizer {
	return New(Rules{})
}

// Rules returns the rule set in effect.
func (n *Normalizer) Rules() Rules {
	return n.rules
}

// Normalize derives the identity of filename. It never fails: any input,
// including "", yields a deterministic identity.
//
// Steps, in order: drop directories and the final extension, NFC
// normalize, fold case, collapse whitespace, then the optional rules.
func (n *Normalizer) Normalize(filename string) part.LogicalIdentity {
	s := part.Stem(filename)
	s = norm.NFC.String(s)
	// cases.Caser is stateful, so one per call.
	s = cases.Fold().String(s)
	s = strings.Join(strings.Fields(s), " ")

	if n.rules.StripVersionSuffix {
		if stripped := versionSuffix.ReplaceAllString(s, ""); stripped != "" {
			s = stripped
		}
	}
	if n.rules.StripSeparators {
		s = collapseSeparators(s)
	}
	return part.LogicalIdentity(s)
}

func collapseSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if isSeparator(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('-')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
