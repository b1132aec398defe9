package frame

import (
	"fmt"
	"strings"
)

// ServiceType tags a frame. Control and data frames differ only by this word.
type ServiceType uint32

const (
	Unreliable ServiceType = 0x00000001
	Reliable   ServiceType = 0x00000002
	Fifo       ServiceType = 0x00000004
	Causal     ServiceType = 0x00000008
	Agreed     ServiceType = 0x00000010
	Safe       ServiceType = 0x00000020
	// RegularMask covers every data delivery guarantee.
	RegularMask ServiceType = 0x0000003f
	SelfDiscard ServiceType = 0x00000040

	CausedByJoin         ServiceType = 0x00000100
	CausedByLeave        ServiceType = 0x00000200
	CausedByDisconnect   ServiceType = 0x00000400
	CausedByNetwork      ServiceType = 0x00000800
	RegularMembership    ServiceType = 0x00001000
	TransitionMembership ServiceType = 0x00002000
	MembershipMask       ServiceType = 0x00003f00

	Join   ServiceType = 0x00010000
	Leave  ServiceType = 0x00020000
	Kill   ServiceType = 0x00040000
	Reject ServiceType = 0x00400000

	ReliableMulticast = Reliable
)

// IsRegular reports whether t carries application data.
func (t ServiceType) IsRegular() bool {
	return t&RegularMask != 0 && t&MembershipMask == 0
}

// IsMembership reports whether t is a membership notification.
func (t ServiceType) IsMembership() bool {
	return t&MembershipMask != 0
}

func (t ServiceType) String() string {
	switch t {
	case Join:
		return "join"
	case Leave:
		return "leave"
	case Kill:
		return "kill"
	}
	var parts []string
	for _, f := range serviceFlags {
		if t&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("service(%#08x)", uint32(t))
	}
	return strings.Join(parts, "|")
}

var serviceFlags = []struct {
	bit  ServiceType
	name string
}{
	{Unreliable, "unreliable"},
	{Reliable, "reliable"},
	{Fifo, "fifo"},
	{Causal, "causal"},
	{Agreed, "agreed"},
	{Safe, "safe"},
	{SelfDiscard, "self-discard"},
	{CausedByJoin, "caused-by-join"},
	{CausedByLeave, "caused-by-leave"},
	{CausedByDisconnect, "caused-by-disconnect"},
	{CausedByNetwork, "caused-by-network"},
	{RegularMembership, "regular-membership"},
	{TransitionMembership, "transition-membership"},
	{Join, "join"},
	{Leave, "leave"},
	{Kill, "kill"},
	{Reject, "reject"},
}
