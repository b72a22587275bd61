package mach

// MIG message ids of the mach_exc subsystem.
const (
	MsgIDRaise              = 2405
	MsgIDRaiseState         = 2406
	MsgIDRaiseStateIdentity = 2407

	replyIDOffset = 100
)

// ExceptionMessage is a decoded request received on an exception port.
// Thread and Task are rights carried by the message and are owned by the
// receiver. They are zero for messages that carry no port descriptors.
type ExceptionMessage struct {
	ID        int32
	ReplyPort Port
	// ReplyBits is the disposition of ReplyPort as received, reused as
	// the remote disposition of the reply.
	ReplyBits uint32
	Thread    Thread
	Task      Task
	Exception ExceptionType
	Codes     []int64
}

// Code returns the i-th exception code or 0.
func (m *ExceptionMessage) Code(i int) int64 {
	if i < len(m.Codes) {
		return m.Codes[i]
	}
	return 0
}

// Reply builds the mig_reply_error_t answering m.
func (m *ExceptionMessage) Reply(ret KernReturn) *ExceptionReply {
	return &ExceptionReply{
		ID:        m.ID + replyIDOffset,
		Port:      m.ReplyPort,
		ReplyBits: m.ReplyBits,
		RetCode:   ret,
	}
}

// ExceptionReply is the reply sent back to the kernel. Only the RetCode
// shape is ever sent: the state carrying variants are always declined.
type ExceptionReply struct {
	ID        int32
	Port      Port
	ReplyBits uint32
	RetCode   KernReturn
}
