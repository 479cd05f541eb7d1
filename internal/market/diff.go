package market

import (
	"fmt"
	"sort"
)

// Kind is the category of a change. The numeric order is the sort order.
type Kind int

const (
	KindRemoved Kind = iota
	KindAdded
	KindUpdated
)

func (k Kind) String() string {
	switch k {
	case KindRemoved:
		return "removed"
	case KindAdded:
		return "added"
	case KindUpdated:
		return "updated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Change is one entry of a change set. Which fields are set depends on Kind:
// Added uses Version (+ Publisher, Description when enabled), Updated uses
// OldVersion/NewVersion, Removed uses only Name.
type Change struct {
	Kind        Kind
	Name        string
	Version     string
	OldVersion  string
	NewVersion  string
	Publisher   string
	Description string
}

// String is the canonical one-line form used by logs, the CLI and tests.
func (c Change) String() string {
	switch c.Kind {
	case KindAdded:
		return fmt.Sprintf("added %s (%s)", c.Name, c.Version)
	case KindUpdated:
		return fmt.Sprintf("updated %s (%s → %s)", c.Name, c.OldVersion, c.NewVersion)
	case KindRemoved:
		return "removed " + c.Name
	default:
		return c.Kind.String() + " " + c.Name
	}
}

type DiffOptions struct {
	ShowPublisher   bool
	ShowDescription bool
	ShowDeletion    bool
}

// Diff compares two snapshots and returns the ordered change set.
// A name produces a change only when its version differs between prev and cur
// (absence counts as a distinct version). Removals are reported only with
// ShowDeletion. The result is sorted by (Kind, Name) and is nil when nothing
// changed.
func Diff(prev, cur Snapshot, opts DiffOptions) []Change {
	var out []Change

	for name, c := range cur {
		p, existed := prev[name]
		switch {
		case !existed:
			ch := Change{Kind: KindAdded, Name: name, Version: c.Version}
			if opts.ShowPublisher {
				ch.Publisher = c.Publisher
			}
			if opts.ShowDescription {
				ch.Description = c.Description.Resolve()
			}
			out = append(out, ch)
		case p.Version != c.Version:
			out = append(out, Change{Kind: KindUpdated, Name: name, OldVersion: p.Version, NewVersion: c.Version})
		}
	}

	if opts.ShowDeletion {
		for name := range prev {
			if _, ok := cur[name]; !ok {
				out = append(out, Change{Kind: KindRemoved, Name: name})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Count tallies a change set by kind.
func Count(changes []Change) (added, updated, removed int) {
	for _, c := range changes {
		switch c.Kind {
		case KindAdded:
			added++
		case KindUpdated:
			updated++
		case KindRemoved:
			removed++
		}
	}
	return added, updated, removed
}
