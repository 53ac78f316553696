package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// NextSeq returns a process-wide monotonic sequence number used to break
// ties between records created in the same nanosecond.
func NextSeq() uint64 {
	return atomic.AddUint64(&idSeq, 1)
}

// GenMessageID generates a unique message ID from the current UTC
// nanosecond timestamp and an atomic sequence number.
func GenMessageID() string {
	n := time.Now().UTC().UnixNano()
	return fmt.Sprintf("msg-%d-%d", n, NextSeq())
}

// GenUserID generates a unique user ID.
func GenUserID() string {
	n := time.Now().UTC().UnixNano()
	return fmt.Sprintf("user-%d-%d", n, NextSeq())
}

// GenNotificationID generates a unique notification ID.
func GenNotificationID() string {
	n := time.Now().UTC().UnixNano()
	return fmt.Sprintf("notif-%d-%d", n, NextSeq())
}

// GenHistoryID generates a unique message-history ID.
func GenHistoryID() string {
	n := time.Now().UTC().UnixNano()
	return fmt.Sprintf("hist-%d-%d", n, NextSeq())
}
