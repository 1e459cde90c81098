package kernel

// ErrCode is the kernel error taxonomy (spec §7). Every service sets the
// calling task's (or LSR's) Err field on entry to OK and updates it on
// failure; services return a sentinel zero value rather than a Go error for
// every code below; the Integrity-category codes listed in integrityCodes
// are additionally exempt from the error manager's flood suppression (see
// errmgr.go).
type ErrCode uint16

const (
	OK ErrCode = iota

	// Invalid handle / control-block.
	ErrInvTCB
	ErrInvSCB
	ErrInvMUCB
	ErrInvXCB
	ErrInvMCB
	ErrInvPCB
	ErrInvEGCB
	ErrInvEQCB
	ErrInvTMRCB
	ErrInvLCB
	ErrInvPool

	// Parameter errors.
	ErrInvPar
	ErrInvPri
	ErrInvTime
	ErrUnknownSize
	ErrWrongMode

	// Resource exhaustion.
	ErrOutOfTCBs
	ErrOutOfSCBs
	ErrOutOfMUCBs
	ErrOutOfXCBs
	ErrOutOfMCBs
	ErrOutOfPCBs
	ErrOutOfEGCBs
	ErrOutOfEQCBs
	ErrOutOfTMRCBs
	ErrOutOfLCBs
	ErrOutOfStacks
	ErrInsuffHeap
	ErrLQOvfl

	// Protocol errors.
	ErrMtxNonOnrRel
	ErrMtxAlrdyFree
	ErrNotMsgOnr
	ErrWaitNotAllowed
	ErrOpNotAllowed
	ErrPrivViol
	ErrTokenViol
	ErrSSRInISR

	// Integrity.
	ErrBrokenQ
	ErrHeapBrkn
	ErrHeapFixed
	ErrFenceBrkn
	ErrHeapError
	ErrStkOvfl
	ErrSemCtrOvfl

	// CPU faults (raised by architecture fault handlers; external collaborator).
	ErrBus
	ErrHard
	ErrMMF
	ErrUsage

	// Timeout — not a failure of the service itself, but the reason a wait
	// was interrupted.
	ErrTMO

	// Handle table.
	ErrHTFull
	ErrHTDup
)

var errCodeNames = map[ErrCode]string{
	OK:                "OK",
	ErrInvTCB:         "INV_TCB",
	ErrInvSCB:         "INV_SCB",
	ErrInvMUCB:        "INV_MUCB",
	ErrInvXCB:         "INV_XCB",
	ErrInvMCB:         "INV_MCB",
	ErrInvPCB:         "INV_PCB",
	ErrInvEGCB:        "INV_EGCB",
	ErrInvEQCB:        "INV_EQCB",
	ErrInvTMRCB:       "INV_TMRCB",
	ErrInvLCB:         "INV_LCB",
	ErrInvPool:        "INV_POOL",
	ErrInvPar:         "INV_PAR",
	ErrInvPri:         "INV_PRI",
	ErrInvTime:        "INV_TIME",
	ErrUnknownSize:    "UNKNOWN_SIZE",
	ErrWrongMode:      "WRONG_MODE",
	ErrOutOfTCBs:      "OUT_OF_TCBS",
	ErrOutOfSCBs:      "OUT_OF_SCBS",
	ErrOutOfMUCBs:     "OUT_OF_MUCBS",
	ErrOutOfXCBs:      "OUT_OF_XCBS",
	ErrOutOfMCBs:      "OUT_OF_MCBS",
	ErrOutOfPCBs:      "OUT_OF_PCBS",
	ErrOutOfEGCBs:     "OUT_OF_EGCBS",
	ErrOutOfEQCBs:     "OUT_OF_EQCBS",
	ErrOutOfTMRCBs:    "OUT_OF_TMRCBS",
	ErrOutOfLCBs:      "OUT_OF_LCBS",
	ErrOutOfStacks:    "OUT_OF_STACKS",
	ErrInsuffHeap:     "INSUFF_HEAP",
	ErrLQOvfl:         "LQ_OVFL",
	ErrMtxNonOnrRel:   "MTX_NON_ONR_REL",
	ErrMtxAlrdyFree:   "MTX_ALRDY_FREE",
	ErrNotMsgOnr:      "NOT_MSG_ONR",
	ErrWaitNotAllowed: "WAIT_NOT_ALLOWED",
	ErrOpNotAllowed:   "OP_NOT_ALLOWED",
	ErrPrivViol:       "PRIV_VIOL",
	ErrTokenViol:      "TOKEN_VIOL",
	ErrSSRInISR:       "SSR_IN_ISR",
	ErrBrokenQ:        "BROKEN_Q",
	ErrHeapBrkn:       "HEAP_BRKN",
	ErrHeapFixed:      "HEAP_FIXED",
	ErrFenceBrkn:      "FENCE_BRKN",
	ErrHeapError:      "HEAP_ERROR",
	ErrStkOvfl:        "STK_OVFL",
	ErrSemCtrOvfl:     "SEM_CTR_OVFL",
	ErrBus:            "BUS",
	ErrHard:           "HARD",
	ErrMMF:            "MMF",
	ErrUsage:          "USAGE",
	ErrTMO:            "TMO",
	ErrHTFull:         "HT_FULL",
	ErrHTDup:          "HT_DUP",
}

func (e ErrCode) String() string {
	if s, ok := errCodeNames[e]; ok {
		return s
	}
	return "UNKNOWN"
}

// integrityCodes are the subset of ErrCode that represent a violated
// invariant rather than an expected runtime condition; the error manager
// escalates these unconditionally regardless of flood suppression.
var integrityCodes = map[ErrCode]bool{
	ErrBrokenQ:   true,
	ErrHeapBrkn:  true,
	ErrHeapFixed: true,
	ErrFenceBrkn: true,
	ErrHeapError: true,
	ErrStkOvfl:   true,
	ErrBus:       true,
	ErrHard:      true,
	ErrMMF:       true,
	ErrUsage:     true,
}
