package protocol

import "fmt"

// Code is a status value reported by the Spread daemon.
type Code int32

const (
	AcceptSession     Code = 1
	IllegalSpread     Code = -1
	CouldNotConnect   Code = -2
	RejectQuota       Code = -3
	RejectNoName      Code = -4
	RejectIllegalName Code = -5
	RejectNotUnique   Code = -6
	RejectVersion     Code = -7
	ConnectionClosed  Code = -8
	RejectAuth        Code = -9
	IllegalSession    Code = -11
	IllegalService    Code = -12
	IllegalMessage    Code = -13
	IllegalGroup      Code = -14
	BufferTooShort    Code = -15
	GroupsTooShort    Code = -16
	MessageTooLong    Code = -17
	NetErrorOnSession Code = -18
)

var codeNames = map[Code]string{
	AcceptSession:     "ACCEPT_SESSION",
	IllegalSpread:     "ILLEGAL_SPREAD",
	CouldNotConnect:   "COULD_NOT_CONNECT",
	RejectQuota:       "REJECT_QUOTA",
	RejectNoName:      "REJECT_NO_NAME",
	RejectIllegalName: "REJECT_ILLEGAL_NAME",
	RejectNotUnique:   "REJECT_NOT_UNIQUE",
	RejectVersion:     "REJECT_VERSION",
	ConnectionClosed:  "CONNECTION_CLOSED",
	RejectAuth:        "REJECT_AUTH",
	IllegalSession:    "ILLEGAL_SESSION",
	IllegalService:    "ILLEGAL_SERVICE",
	IllegalMessage:    "ILLEGAL_MESSAGE",
	IllegalGroup:      "ILLEGAL_GROUP",
	BufferTooShort:    "BUFFER_TOO_SHORT",
	GroupsTooShort:    "GROUPS_TOO_SHORT",
	MessageTooLong:    "MESSAGE_TOO_LONG",
	NetErrorOnSession: "NET_ERROR_ON_SESSION",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int32(c))
}

// SignExtend widens a single status byte from the daemon to a Code by filling
// the upper 24 bits with ones.
func SignExtend(b byte) Code {
	return Code(int32(0xFFFFFF00 | uint32(b)))
}
