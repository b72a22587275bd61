package mach

import "fmt"

// KernReturn is a kern_return_t / mach_msg_return_t status code.
type KernReturn int32

const (
	KernSuccess           KernReturn = 0
	KernInvalidAddress    KernReturn = 1
	KernProtectionFailure KernReturn = 2
	KernNoSpace           KernReturn = 3
	KernInvalidArgument   KernReturn = 4
	KernFailure           KernReturn = 5
	KernResourceShortage  KernReturn = 6
	KernNotReceiver       KernReturn = 7
	KernNoAccess          KernReturn = 8
	KernInvalidName       KernReturn = 15
	KernInvalidRight      KernReturn = 17
	KernInvalidValue      KernReturn = 18
	KernTerminated        KernReturn = 37

	SendInvalidDest   KernReturn = 0x10000003
	RcvInvalidName    KernReturn = 0x10004002
	RcvInterrupted    KernReturn = 0x10004005
	RcvPortChanged    KernReturn = 0x10004006
	RcvPortDied       KernReturn = 0x10004009
	MigBadID          KernReturn = -303
)

var kernReturnNames = map[KernReturn]string{
	KernSuccess:           "KERN_SUCCESS",
	KernInvalidAddress:    "KERN_INVALID_ADDRESS",
	KernProtectionFailure: "KERN_PROTECTION_FAILURE",
	KernNoSpace:           "KERN_NO_SPACE",
	KernInvalidArgument:   "KERN_INVALID_ARGUMENT",
	KernFailure:           "KERN_FAILURE",
	KernResourceShortage:  "KERN_RESOURCE_SHORTAGE",
	KernNotReceiver:       "KERN_NOT_RECEIVER",
	KernNoAccess:          "KERN_NO_ACCESS",
	KernInvalidName:       "KERN_INVALID_NAME",
	KernInvalidRight:      "KERN_INVALID_RIGHT",
	KernInvalidValue:      "KERN_INVALID_VALUE",
	KernTerminated:        "KERN_TERMINATED",
	SendInvalidDest:       "MACH_SEND_INVALID_DEST",
	RcvInvalidName:        "MACH_RCV_INVALID_NAME",
	RcvInterrupted:        "MACH_RCV_INTERRUPTED",
	RcvPortChanged:        "MACH_RCV_PORT_CHANGED",
	RcvPortDied:           "MACH_RCV_PORT_DIED",
	MigBadID:              "MIG_BAD_ID",
}

func (kr KernReturn) Error() string {
	if name, ok := kernReturnNames[kr]; ok {
		return fmt.Sprintf("%s (%#x)", name, uint32(kr))
	}
	return fmt.Sprintf("kern_return %#x", uint32(kr))
}

// PortGone reports whether a receive failed because the port it was
// waiting on was destroyed or renamed.
func (kr KernReturn) PortGone() bool {
	switch kr {
	case RcvInvalidName, RcvPortChanged, RcvPortDied:
		return true
	}
	return false
}

// Err returns nil for KernSuccess and kr otherwise.
func (kr KernReturn) Err() error {
	if kr == KernSuccess {
		return nil
	}
	return kr
}
