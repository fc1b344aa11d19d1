package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRef is returned for a reference that carries neither an id nor a name.
var ErrInvalidRef = errors.New("identifier must be an id or a name")

type refKind uint8

const (
	refUnset refKind = iota
	refByID
	refByName
)

type ref struct {
	kind refKind
	id   uint
	name string
}

func (r ref) validate() error {
	switch r.kind {
	case refByID:
		if r.id == 0 {
			return fmt.Errorf("%w: id must be positive", ErrInvalidRef)
		}
	case refByName:
		if strings.TrimSpace(r.name) == "" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidRef)
		}
	default:
		return ErrInvalidRef
	}
	return nil
}

func (r ref) String() string {
	switch r.kind {
	case refByID:
		return fmt.Sprintf("id:%d", r.id)
	case refByName:
		return "name:" + NormalizeName(r.name)
	default:
		return "invalid"
	}
}

// RoleRef addresses a role either by id or by name.
type RoleRef struct{ ref }

func RoleByID(id uint) RoleRef       { return RoleRef{ref{kind: refByID, id: id}} }
func RoleByName(name string) RoleRef { return RoleRef{ref{kind: refByName, name: name}} }

// ID returns the id and true when the reference is by id.
func (r RoleRef) ID() (uint, bool) { return r.id, r.kind == refByID }

// Name returns the normalized name and true when the reference is by name.
func (r RoleRef) Name() (string, bool) { return NormalizeName(r.name), r.kind == refByName }

func (r RoleRef) Validate() error { return r.validate() }

// PermissionRef addresses a permission either by id or by name.
type PermissionRef struct{ ref }

func PermissionByID(id uint) PermissionRef       { return PermissionRef{ref{kind: refByID, id: id}} }
func PermissionByName(name string) PermissionRef { return PermissionRef{ref{kind: refByName, name: name}} }

func (r PermissionRef) ID() (uint, bool)     { return r.id, r.kind == refByID }
func (r PermissionRef) Name() (string, bool) { return NormalizeName(r.name), r.kind == refByName }
func (r PermissionRef) Validate() error      { return r.validate() }

// NormalizeName is the store-side form of role and permission names.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
