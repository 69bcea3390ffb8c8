// Package nbp implements the Name Binding Protocol reactive service bound
// to socket 2 (Section 4.4): converting broadcast lookup requests (BrRq)
// into local LkUp broadcasts or routed forward requests (FwdReq), and
// converting an incoming FwdReq back into a local LkUp broadcast.
package nbp

// StaticSocket is the NBP socket number.
const StaticSocket = 2

// ddpType marks every NBP packet.
const ddpType = 2

// NBP control function codes (Section 4.4), packed into the high nibble
// of the first payload byte alongside a tuple count in the low nibble.
const (
	ctrlBrRq      = 1
	ctrlLkUp      = 2
	ctrlLkUpReply = 3
	ctrlFwdReq    = 4
)

// MaxFieldLen is the longest an object/type/zone field may be.
const MaxFieldLen = 32
