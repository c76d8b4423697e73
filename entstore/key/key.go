// Package key models hierarchical entity keys: an ordered path of
// (kind, id-or-name) elements in an optional namespace partition.
package key

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PathElement is one step of a key path. Exactly one of ID and Name
// identifies the entity within its kind; both zero means the element is
// incomplete (the server has not allocated an identifier yet).
type PathElement struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Key identifies an entity. The last path element names the entity itself,
// preceding elements name its ancestors, outermost first.
type Key struct {
	Namespace string        `json:"namespace,omitempty"`
	Path      []PathElement `json:"path"`
}

// New builds a complete single-element key.
func New(kind string, id int64, name string, parent *Key) *Key {
	k := &Key{}
	if parent != nil {
		k.Namespace = parent.Namespace
		k.Path = append(k.Path, parent.Path...)
	}
	k.Path = append(k.Path, PathElement{Kind: kind, ID: id, Name: name})
	return k
}

// IDKey builds a key identified by a numeric id.
func IDKey(kind string, id int64, parent *Key) *Key { return New(kind, id, "", parent) }

// NameKey builds a key identified by a string name.
func NameKey(kind string, name string, parent *Key) *Key { return New(kind, 0, name, parent) }

// Kind returns the kind of the entity the key names.
func (k *Key) Kind() string {
	if k == nil || len(k.Path) == 0 {
		return ""
	}
	return k.Path[len(k.Path)-1].Kind
}

// Parent returns the key of the enclosing ancestor, or nil for a root key.
func (k *Key) Parent() *Key {
	if k == nil || len(k.Path) <= 1 {
		return nil
	}
	return &Key{Namespace: k.Namespace, Path: append([]PathElement(nil), k.Path[:len(k.Path)-1]...)}
}

// Incomplete reports whether any path element lacks both id and name.
func (k *Key) Incomplete() bool {
	if k == nil {
		return true
	}
	for _, el := range k.Path {
		if el.ID == 0 && el.Name == "" {
			return true
		}
	}
	return false
}

// Equal reports whether two keys name the same entity.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	if k.Namespace != o.Namespace || len(k.Path) != len(o.Path) {
		return false
	}
	for i := range k.Path {
		if k.Path[i] != o.Path[i] {
			return false
		}
	}
	return true
}

// Token renders the key path as a stable string, one "kind,id" or
// "kind,'name'" segment per element joined by "/". The token form is what
// the SQL store persists and what ancestor matching prefixes against.
func (k *Key) Token() string {
	if k == nil {
		return ""
	}
	var b strings.Builder
	for i, el := range k.Path {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(el.Kind)
		b.WriteByte(',')
		if el.Name != "" {
			b.WriteByte('\'')
			b.WriteString(el.Name)
			b.WriteByte('\'')
		} else {
			b.WriteString(strconv.FormatInt(el.ID, 10))
		}
	}
	return b.String()
}

// String implements fmt.Stringer using the token form.
func (k *Key) String() string { return k.Token() }

// ParseToken is the inverse of Token. Names containing "/" or "'" are not
// representable in token form and are rejected on the encode side by the
// store, so the parser does not handle escapes.
func ParseToken(namespace, token string) (*Key, error) {
	if token == "" {
		return nil, errors.New("key: empty token")
	}
	k := &Key{Namespace: namespace}
	for _, seg := range strings.Split(token, "/") {
		kind, rest, ok := strings.Cut(seg, ",")
		if !ok || kind == "" {
			return nil, fmt.Errorf("key: malformed token segment %q", seg)
		}
		el := PathElement{Kind: kind}
		if strings.HasPrefix(rest, "'") && strings.HasSuffix(rest, "'") && len(rest) >= 2 {
			el.Name = rest[1 : len(rest)-1]
		} else {
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("key: malformed id in segment %q", seg)
			}
			el.ID = id
		}
		k.Path = append(k.Path, el)
	}
	return k, nil
}

// MarshalJSON encodes the key in its structural form.
func (k *Key) MarshalJSON() ([]byte, error) {
	type plain Key
	return json.Marshal((*plain)(k))
}

// UnmarshalJSON decodes the structural form.
func (k *Key) UnmarshalJSON(data []byte) error {
	type plain Key
	return json.Unmarshal(data, (*plain)(k))
}
