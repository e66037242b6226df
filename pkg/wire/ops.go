package wire

import "fmt"

// Op identifies a protocol operation. The numeric values are part of the
// wire format and must not be renumbered.
type Op uint8

const (
	OpView             Op = 1
	OpRead             Op = 2
	OpCreate           Op = 3
	OpWrite            Op = 4
	OpDelete           Op = 5
	OpInfo             Op = 6
	OpStream           Op = 7
	OpList             Op = 8
	OpAddAccess        Op = 9
	OpRemAccess        Op = 10
	OpExec             Op = 11
	OpUndo             Op = 12
	OpLockSentence     Op = 13
	OpUnlockSentence   Op = 14
	OpRegisterSS       Op = 20
	OpRegisterClient   Op = 21
	OpSSAck            Op = 22
	OpCreateFolder     Op = 23
	OpMove             Op = 24
	OpViewFolder       Op = 25
	OpCheckpoint       Op = 26
	OpViewCheckpoint   Op = 27
	OpRevert           Op = 28
	OpListCheckpoints  Op = 29
	OpReqAccess        Op = 30
	OpViewRequests     Op = 31
	OpApprove          Op = 32
	OpDeny             Op = 33
	OpReplCreate       Op = 34
	OpReplDelete       Op = 35
	OpReplWrite        Op = 36
	OpReplMove         Op = 37
	OpRecents          Op = 38
	OpReplCreateFolder Op = 39
)

var opNames = map[Op]string{
	OpView:             "VIEW",
	OpRead:             "READ",
	OpCreate:           "CREATE",
	OpWrite:            "WRITE",
	OpDelete:           "DELETE",
	OpInfo:             "INFO",
	OpStream:           "STREAM",
	OpList:             "LIST",
	OpAddAccess:        "ADDACCESS",
	OpRemAccess:        "REMACCESS",
	OpExec:             "EXEC",
	OpUndo:             "UNDO",
	OpLockSentence:     "LOCK_SENTENCE",
	OpUnlockSentence:   "UNLOCK_SENTENCE",
	OpRegisterSS:       "REGISTER_SS",
	OpRegisterClient:   "REGISTER_CLIENT",
	OpSSAck:            "SS_ACK",
	OpCreateFolder:     "CREATEFOLDER",
	OpMove:             "MOVE",
	OpViewFolder:       "VIEWFOLDER",
	OpCheckpoint:       "CHECKPOINT",
	OpViewCheckpoint:   "VIEWCHECKPOINT",
	OpRevert:           "REVERT",
	OpListCheckpoints:  "LISTCHECKPOINTS",
	OpReqAccess:        "REQACCESS",
	OpViewRequests:     "VIEWREQUESTS",
	OpApprove:          "APPROVE",
	OpDeny:             "DENY",
	OpReplCreate:       "REPL_CREATE",
	OpReplDelete:       "REPL_DELETE",
	OpReplWrite:        "REPL_WRITE",
	OpReplMove:         "REPL_MOVE",
	OpRecents:          "RECENTS",
	OpReplCreateFolder: "REPL_CREATEFOLDER",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OP(%d)", uint8(o))
}

// IsReplication reports whether the op is one of the replica-apply codes.
// Mutations received under these ops must never be fanned out again.
func (o Op) IsReplication() bool {
	switch o {
	case OpReplCreate, OpReplDelete, OpReplWrite, OpReplMove, OpReplCreateFolder:
		return true
	}
	return false
}

// Status is the result code carried on every reply. The numeric values are
// part of the wire format.
type Status uint8

const (
	StatusOK Status = iota
	StatusFileNotFound
	StatusFileExists
	StatusAccessDenied
	StatusSentenceLocked
	StatusInvalidIndex
	StatusServerError
	StatusConnectionFailed
	StatusInvalidCommand
	StatusNotOwner
	StatusUserNotFound
	StatusSSNotFound
	StatusNoUndo
)

var statusNames = map[Status]string{
	StatusOK:               "SUCCESS",
	StatusFileNotFound:     "FILE_NOT_FOUND",
	StatusFileExists:       "FILE_EXISTS",
	StatusAccessDenied:     "ACCESS_DENIED",
	StatusSentenceLocked:   "SENTENCE_LOCKED",
	StatusInvalidIndex:     "INVALID_INDEX",
	StatusServerError:      "SERVER_ERROR",
	StatusConnectionFailed: "CONNECTION_FAILED",
	StatusInvalidCommand:   "INVALID_COMMAND",
	StatusNotOwner:         "NOT_OWNER",
	StatusUserNotFound:     "USER_NOT_FOUND",
	StatusSSNotFound:       "SS_NOT_FOUND",
	StatusNoUndo:           "NO_UNDO",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// Flag bits carried in Message.Flags.
const (
	// FlagAll requests an unrestricted listing (VIEW -a) or, on ADDACCESS,
	// grants write access instead of read.
	FlagAll uint16 = 1 << 0
	// FlagLong requests the detailed listing (VIEW -l).
	FlagLong uint16 = 1 << 1
	// FlagReplication marks a mutation already in replication flight.
	// Receivers apply it but never fan it out again.
	FlagReplication uint16 = 1 << 8
)
