package common

import "strings"

// Kind tags an indicator of compromise with the attribute type the
// intelligence platform assigned to it. The vocabulary is open-ended.
type Kind string

const (
	KindDestIP   Kind = "ip-dst"
	KindHostname Kind = "hostname"
	KindSHA256   Kind = "sha256"
)

// DefaultKinds is the allow-list used when none is configured.
var DefaultKinds = []Kind{KindDestIP, KindHostname, KindSHA256}

// ParseKinds splits a comma separated list, dropping blanks.
func ParseKinds(s string) []Kind {
	var out []Kind
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, Kind(p))
		}
	}
	return out
}

// KindSet is a lookup form of an allow-list.
type KindSet map[Kind]struct{}

func NewKindSet(kinds []Kind) KindSet {
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

func (s KindSet) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}
