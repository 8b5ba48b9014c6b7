package plan

import (
	"strings"

	"github.com/bkero/dynamic-dnspod/pkg/record"
)

// Decide compares the remote records for spec against the current IP and
// returns the single action needed to converge. It is pure: no I/O.
//
// The remote set is scanned in order. The first record whose name equals the
// spec's sub-domain (case-insensitive) and whose type, when the backend
// reports one, equals the spec's type is the match; later matches are
// ignored. A match holding ip needs nothing and a match holding anything else
// is updated. Only an empty set means the record is created; a non-empty set
// without a match is left alone.
func Decide(spec record.Spec, remotes []record.Remote, ip string) Action {
	if len(remotes) == 0 {
		return Action{Kind: Create, Desired: ip}
	}
	m, ok := firstMatch(spec, remotes)
	if !ok {
		return Action{Kind: None, Desired: ip}
	}
	if m.Value == ip {
		return Action{Kind: None, RecordID: m.ID, Current: m.Value, Desired: ip}
	}
	return Action{Kind: Update, RecordID: m.ID, Current: m.Value, Desired: ip}
}

// firstMatch returns the first remote record that names spec.
func firstMatch(spec record.Spec, remotes []record.Remote) (record.Remote, bool) {
	want := spec.Type()
	for _, r := range remotes {
		if !strings.EqualFold(r.Name, spec.SubDomain) {
			continue
		}
		if r.Type != "" && !strings.EqualFold(r.Type, want) {
			continue
		}
		return r, true
	}
	return record.Remote{}, false
}
