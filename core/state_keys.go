package core

import (
	"encoding/binary"
)

// State layout: every persisted object lives under a short ASCII prefix so
// backends can be inspected with plain key scans.
var (
	prefixAccount = []byte("acct:")
	prefixAlbum   = []byte("album:")
	prefixEscrow  = []byte("escrow:")
	keyCatalog    = []byte("catalog:meta")
)

func accountKey(addr []byte) []byte {
	return append(append([]byte(nil), prefixAccount...), addr...)
}

func albumRecordKey(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return append(append([]byte(nil), prefixAlbum...), buf...)
}

func escrowKey(addr [20]byte) []byte {
	return append(append([]byte(nil), prefixEscrow...), addr[:]...)
}
