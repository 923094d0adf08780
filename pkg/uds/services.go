package uds

// Service IDs from the subset of ISO 14229-1 this core implements
// (spec.md §4.3).
const (
	SIDDiagnosticSessionControl byte = 0x10
	SIDECUReset                 byte = 0x11
	SIDReadDataByIdentifier     byte = 0x22
	SIDReadMemoryByAddress      byte = 0x23
	SIDReadDTCInformation       byte = 0x19
	SIDSecurityAccess           byte = 0x27
	SIDCommunicationControl     byte = 0x28
	SIDWriteDataByIdentifier    byte = 0x2E
	SIDInputOutputControl       byte = 0x30
	SIDRoutineControl           byte = 0x31
	SIDRequestDownload          byte = 0x34
	SIDTransferData             byte = 0x36
	SIDRequestTransferExit      byte = 0x37
	SIDWriteMemoryByAddress     byte = 0x3D
	SIDTesterPresent            byte = 0x3E
)

// Diagnostic session subfunctions. SessionBmwProgramming and
// SessionBmwExtended are the BMW-specific session types a real N54 ECU
// actually responds to: the ECU accepts 0x85 in place of the standard
// 0x02 for programming, and expects 0x87 as a precondition before some
// Security Access sequences.
const (
	SessionDefault        byte = 0x01
	SessionProgramming    byte = 0x02
	SessionExtended       byte = 0x03
	SessionBmwProgramming byte = 0x85
	SessionBmwExtended    byte = 0x87
)

// ECU reset subfunctions.
const (
	ResetHard byte = 0x01
	ResetSoft byte = 0x03
)

// RoutineControl subfunctions.
const (
	RoutineStart byte = 0x01
	RoutineStop  byte = 0x02
	RoutineResult byte = 0x03
)

// ReadDTCInformation subfunctions.
const (
	ReportDTCByStatusMask byte = 0x02
)
