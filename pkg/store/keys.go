package store

import "fmt"

// Key schema. Every derived row and index entry is written in the same
// batch as the canonical row it belongs to, so a prefix scan over any of
// these families is always consistent with the msg:/user: relations.
//
//	user:<id>                        user record
//	msg:<id>                         canonical message record
//	idx:recv:<user>:<ts>-<seq>       receiver+time index -> message id
//	idx:sent:<user>:<ts>-<seq>       sender+time index   -> message id
//	idx:unread:<user>:<msgid>        present == unread
//	idx:child:<parent>:<msgid>       reply index
//	hist:<msgid>:<ts>-<seq>          edit-history snapshot
//	notif:<user>:<ts>-<seq>          notification, recency-sorted
//	idx:msgnotif:<msgid>:<notifkey>  message -> notification key
const (
	userPrefix     = "user:"
	msgPrefix      = "msg:"
	histPrefix     = "hist:"
	notifPrefix    = "notif:"
	recvIdxPrefix  = "idx:recv:"
	sentIdxPrefix  = "idx:sent:"
	unreadPrefix   = "idx:unread:"
	childIdxPrefix = "idx:child:"
	msgNotifPrefix = "idx:msgnotif:"
	metaPrefix     = "system:"
)

// tsSuffix renders a sortable timestamp+sequence key part. The zero
// padding keeps lexicographic and chronological order identical.
func tsSuffix(ts int64, seq uint64) string {
	return fmt.Sprintf("%020d-%06d", ts, seq)
}

func UserKey(id string) []byte { return []byte(userPrefix + id) }
func MsgKey(id string) []byte  { return []byte(msgPrefix + id) }

func RecvIdxKey(user string, ts int64, seq uint64) []byte {
	return []byte(recvIdxPrefix + user + ":" + tsSuffix(ts, seq))
}

func RecvIdxPrefix(user string) []byte { return []byte(recvIdxPrefix + user + ":") }

func SentIdxKey(user string, ts int64, seq uint64) []byte {
	return []byte(sentIdxPrefix + user + ":" + tsSuffix(ts, seq))
}

func SentIdxPrefix(user string) []byte { return []byte(sentIdxPrefix + user + ":") }

func UnreadKey(user, msgID string) []byte {
	return []byte(unreadPrefix + user + ":" + msgID)
}

func UnreadPrefix(user string) []byte { return []byte(unreadPrefix + user + ":") }

func ChildIdxKey(parent, msgID string) []byte {
	return []byte(childIdxPrefix + parent + ":" + msgID)
}

func ChildIdxPrefix(parent string) []byte { return []byte(childIdxPrefix + parent + ":") }

func HistKey(msgID string, ts int64, seq uint64) []byte {
	return []byte(histPrefix + msgID + ":" + tsSuffix(ts, seq))
}

func HistPrefix(msgID string) []byte { return []byte(histPrefix + msgID + ":") }

func NotifKey(user string, ts int64, seq uint64) []byte {
	return []byte(notifPrefix + user + ":" + tsSuffix(ts, seq))
}

func NotifPrefix(user string) []byte { return []byte(notifPrefix + user + ":") }

func MsgNotifKey(msgID string, notifKey []byte) []byte {
	return []byte(msgNotifPrefix + msgID + ":" + string(notifKey))
}

func MsgNotifPrefix(msgID string) []byte { return []byte(msgNotifPrefix + msgID + ":") }

func MetaKey(name string) []byte { return []byte(metaPrefix + name) }

// Whole-keyspace prefixes, used by the consistency sweep.
func AllUsers() []byte     { return []byte(userPrefix) }
func AllMessages() []byte  { return []byte(msgPrefix) }
func AllRecvIdx() []byte   { return []byte(recvIdxPrefix) }
func AllSentIdx() []byte   { return []byte(sentIdxPrefix) }
func AllUnreadIdx() []byte { return []byte(unreadPrefix) }
func AllChildIdx() []byte  { return []byte(childIdxPrefix) }
func AllHist() []byte      { return []byte(histPrefix) }
func AllNotif() []byte     { return []byte(notifPrefix) }
func AllMsgNotif() []byte  { return []byte(msgNotifPrefix) }

// keyUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
