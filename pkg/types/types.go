package types

import (
	"fmt"
	"regexp"
	"strings"
)

// AnchorType is the kind of a graph entity. Its value is the single character
// used as the first segment of a reference string.
type AnchorType byte

const (
	Generic AnchorType = 'g'
	Node    AnchorType = 'n'
	Edge    AnchorType = 'e'
	Walker  AnchorType = 'w'
)

// AnchorTypes lists the persisted kinds in bulk execution order.
var AnchorTypes = []AnchorType{Node, Edge, Walker}

func (t AnchorType) String() string {
	switch t {
	case Generic:
		return "generic"
	case Node:
		return "node"
	case Edge:
		return "edge"
	case Walker:
		return "walker"
	}
	return "unknown"
}

// Collection is the name of the store collection holding this kind.
// Generic anchors are never persisted and have no collection.
func (t AnchorType) Collection() string {
	switch t {
	case Node, Edge, Walker:
		return t.String()
	}
	return ""
}

func (t AnchorType) Valid() bool {
	switch t {
	case Generic, Node, Edge, Walker:
		return true
	}
	return false
}

var (
	genericRefRegex = regexp.MustCompile(`(?i)^(g|n|e|w):([^:]*):([a-f\d]{24})$`)
	nodeRefRegex    = regexp.MustCompile(`(?i)^n:([^:]*):([a-f\d]{24})$`)
	edgeRefRegex    = regexp.MustCompile(`(?i)^e:([^:]*):([a-f\d]{24})$`)
	walkerRefRegex  = regexp.MustCompile(`(?i)^w:([^:]*):([a-f\d]{24})$`)
)

// Ref points at an anchor without holding it: {kind}:{type_name}:{hex_id}.
// The zero Ref means "no reference".
type Ref struct {
	Type AnchorType
	Name string
	ID   ID
}

func NewRef(t AnchorType, name string, id ID) Ref {
	return Ref{Type: t, Name: name, ID: id}
}

func (r Ref) IsZero() bool {
	return r.ID.IsZero()
}

func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%c:%s:%s", r.Type, r.Name, r.ID)
}

// ParseRef decodes any reference string.
func ParseRef(s string) (Ref, error) {
	m := genericRefRegex.FindStringSubmatch(s)
	if m == nil {
		return Ref{}, fmt.Errorf("invalid reference %q", s)
	}
	return buildRef(AnchorType(strings.ToLower(m[1])[0]), m[2], m[3])
}

// ParseTypedRef decodes a reference string that must be of kind t.
func ParseTypedRef(t AnchorType, s string) (Ref, error) {
	var re *regexp.Regexp
	switch t {
	case Node:
		re = nodeRefRegex
	case Edge:
		re = edgeRefRegex
	case Walker:
		re = walkerRefRegex
	default:
		return ParseRef(s)
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return Ref{}, fmt.Errorf("invalid %s reference %q", t, s)
	}
	return buildRef(t, m[1], m[2])
}

func buildRef(t AnchorType, name, hexID string) (Ref, error) {
	id, err := IDFromHex(strings.ToLower(hexID))
	if err != nil {
		return Ref{}, err
	}
	return Ref{Type: t, Name: name, ID: id}, nil
}

// RefSet is an insertion ordered set of refs keyed by ID.
type RefSet []Ref

func (s RefSet) Contains(id ID) bool {
	return s.Index(id) >= 0
}

func (s RefSet) Index(id ID) int {
	for i, r := range s {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *RefSet) Add(r Ref) bool {
	if s.Contains(r.ID) {
		return false
	}
	*s = append(*s, r)
	return true
}

func (s *RefSet) Remove(id ID) bool {
	i := s.Index(id)
	if i < 0 {
		return false
	}
	*s = append((*s)[:i], (*s)[i+1:]...)
	return true
}

// Strings renders every ref in order.
func (s RefSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, r.String())
	}
	return out
}
