package tracker

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/LeJamon/goXRPLtracker/internal/xrpl"
)

// MatchesTag reports whether a transaction carries the integration tag:
// as SourceTag, as DestinationTag, or spelled out in a decoded memo. A zero
// tag never matches, so an unset configuration tags nothing.
func MatchesTag(tx *xrpl.Transaction, tag uint32) bool {
	if tag == 0 {
		return false
	}
	if tx.SourceTag != nil && *tx.SourceTag == tag {
		return true
	}
	if tx.DestinationTag != nil && *tx.DestinationTag == tag {
		return true
	}
	want := strconv.FormatUint(uint64(tag), 10)
	for _, m := range tx.Memos {
		if memoContains(m, want) {
			return true
		}
	}
	return false
}

func memoContains(m xrpl.Memo, want string) bool {
	for _, field := range [...]string{m.MemoData, m.MemoType} {
		if field == "" {
			continue
		}
		decoded, err := hex.DecodeString(field)
		if err != nil {
			continue
		}
		if strings.Contains(string(decoded), want) {
			return true
		}
	}
	return false
}
