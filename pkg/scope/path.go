// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scope addresses values inside a record.
//
// A scope path is parsed once into a sequence of typed segments. Ancestry between
// scopes is a strict prefix relation on those sequences, the empty sequence being
// the whole record. Resolve and SpawnPartial walk a path against an arbitrary
// JSON-like tree (map[string]any, []any and scalars).
package scope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/united-manufacturing-hub/scopesync/pkg/constants"
)

// Kind is the variant of a path segment.
type Kind int

const (
	// Field indexes an object property.
	Field Kind = iota
	// ArrayElement selects one element of the enclosing array by ordered index.
	ArrayElement
	// ArrayType stands for the array's own element type.
	ArrayType
)

func (k Kind) String() string {
	switch k {
	case Field:
		return "field"
	case ArrayElement:
		return "array_element"
	case ArrayType:
		return "array_type"
	default:
		return "unknown"
	}
}

// Segment is one step of a scope path. Name is only set for Field segments.
type Segment struct {
	Kind Kind
	Name string
}

// IsArray reports whether the segment consumes an ordered index.
func (s Segment) IsArray() bool {
	return s.Kind == ArrayElement || s.Kind == ArrayType
}

// Path is a parsed scope. The zero value is the root scope.
type Path []Segment

// IsRoot reports whether p addresses the whole record.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Equal reports whether both paths have identical segments.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}

	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}

	return true
}

// IsAncestorOf reports whether p is a strict prefix of q.
// The root scope is an ancestor of every other scope.
func (p Path) IsAncestorOf(q Path) bool {
	if len(p) >= len(q) {
		return false
	}

	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}

	return true
}

// Overlaps reports whether p and q address intersecting subtrees.
func (p Path) Overlaps(q Path) bool {
	return p.Equal(q) || p.IsAncestorOf(q) || q.IsAncestorOf(p)
}

// ArrayDepth returns the number of segments that consume an ordered index.
func (p Path) ArrayDepth() int {
	depth := 0

	for _, seg := range p {
		if seg.IsArray() {
			depth++
		}
	}

	return depth
}

// Parent returns p without its leaf. The parent of root is root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}

	return p[:len(p)-1]
}

// Leaf returns the last segment of a non-root path.
func (p Path) Leaf() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}

	return p[len(p)-1], true
}

// Syntax is the process-wide set of scope spelling rules.
type Syntax struct {
	Root         string
	Separator    string
	ArrayElement string
	ArrayType    string
}

// DefaultSyntax returns the syntax used when nothing is configured.
func DefaultSyntax() Syntax {
	return Syntax{
		Root:         constants.DefaultRootScope,
		Separator:    constants.DefaultScopeSeparator,
		ArrayElement: constants.DefaultArrayElementMarker,
		ArrayType:    constants.DefaultArrayTypeMarker,
	}
}

// Validate checks that the tokens are set and distinguishable.
func (s Syntax) Validate() error {
	if s.Root == "" || s.Separator == "" || s.ArrayElement == "" || s.ArrayType == "" {
		return errors.New("scope syntax: root, separator and markers must be set")
	}

	if s.ArrayElement == s.ArrayType {
		return errors.New("scope syntax: array markers must differ")
	}

	for _, token := range []string{s.Root, s.ArrayElement, s.ArrayType} {
		if strings.Contains(token, s.Separator) {
			return fmt.Errorf("scope syntax: %q contains the separator %q", token, s.Separator)
		}
	}

	return nil
}

// Parse converts a scope string into a Path. The empty string and the root
// scope name both parse to the root path; a leading root segment is dropped.
func (s Syntax) Parse(raw string) (Path, error) {
	if raw == "" || raw == s.Root {
		return Path{}, nil
	}

	parts := strings.Split(raw, s.Separator)
	if parts[0] == s.Root {
		parts = parts[1:]
	}

	path := make(Path, 0, len(parts))

	for i, part := range parts {
		switch part {
		case "":
			return nil, fmt.Errorf("scope %q: empty segment at position %d", raw, i)
		case s.Root:
			return nil, fmt.Errorf("scope %q: root segment at position %d", raw, i)
		case s.ArrayElement:
			path = append(path, Segment{Kind: ArrayElement})
		case s.ArrayType:
			path = append(path, Segment{Kind: ArrayType})
		default:
			path = append(path, Segment{Kind: Field, Name: part})
		}
	}

	return path, nil
}

// MustParse is Parse for scopes known at compile time.
func (s Syntax) MustParse(raw string) Path {
	path, err := s.Parse(raw)
	if err != nil {
		panic(err)
	}

	return path
}

// Format renders p back into its string form.
func (s Syntax) Format(p Path) string {
	if p.IsRoot() {
		return s.Root
	}

	parts := make([]string, len(p))

	for i, seg := range p {
		switch seg.Kind {
		case ArrayElement:
			parts[i] = s.ArrayElement
		case ArrayType:
			parts[i] = s.ArrayType
		default:
			parts[i] = seg.Name
		}
	}

	return strings.Join(parts, s.Separator)
}

// MappedKey combines a formatted scope with a list item identifier so that
// sibling items rendered under the same scope get distinct keys.
func (s Syntax) MappedKey(p Path, childID string) string {
	if childID == "" {
		return s.Format(p)
	}

	return s.Format(p) + constants.ChildIDMarker + childID
}
