package protocol

import "strconv"

// MsgID identifies a message. C_ messages are sent by the client, S_
// messages by the server.
type MsgID uint32

const (
	// Unknown doubles as the "no pending header" marker.
	Unknown    MsgID = 0
	CExit      MsgID = 1
	CInit      MsgID = 2
	SInit      MsgID = 3
	CTranslate MsgID = 4
	SMemReq    MsgID = 5
	CMemBuf    MsgID = 6
	SObject    MsgID = 7
	CFork      MsgID = 8
	SFD        MsgID = 9
)

var msgNames = map[MsgID]string{
	Unknown:    "UNKNOWN",
	CExit:      "C_EXIT",
	CInit:      "C_INIT",
	SInit:      "S_INIT",
	CTranslate: "C_TRANSLATE",
	SMemReq:    "S_MEMREQ",
	CMemBuf:    "C_MEMBUF",
	SObject:    "S_OBJECT",
	CFork:      "C_FORK",
	SFD:        "S_FD",
}

func (id MsgID) String() string {
	if name, ok := msgNames[id]; ok {
		return name
	}
	return "MSG_" + strconv.FormatUint(uint64(id), 10)
}
