package model

import (
	"fmt"

	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// Privilege is an access level. Higher levels include lower ones.
type Privilege uint8

const (
	PrivilegeView Privilege = iota + 1
	PrivilegeOperate
	PrivilegeManage
	PrivilegeAdminister
)

// String returns the privilege name.
func (p Privilege) String() string {
	switch p {
	case PrivilegeView:
		return "VIEW"
	case PrivilegeOperate:
		return "OPERATE"
	case PrivilegeManage:
		return "MANAGE"
	case PrivilegeAdminister:
		return "ADMINISTER"
	default:
		return "NONE"
	}
}

// Includes reports whether p grants at least required.
func (p Privilege) Includes(required Privilege) bool {
	return p >= required
}

// ParsePrivilege parses a privilege name as returned by String.
func ParsePrivilege(s string) (Privilege, error) {
	for p := PrivilegeView; p <= PrivilegeAdminister; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown privilege %q", s)
}

// Subject identifies the requester of a read or subscription.
type Subject struct {
	Fabric    path.FabricIndex
	Privilege Privilege
}

// String returns a compact representation, e.g. "fabric=1/VIEW".
func (s Subject) String() string {
	return fmt.Sprintf("fabric=%d/%s", s.Fabric, s.Privilege)
}
