package xrpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedgerReader maps ledger indexes to close times with a linear ramp.
type fakeLedgerReader struct {
	latestIndex uint32
	closeTimeAt func(index uint32) int64
	calls       int
}

func (f *fakeLedgerReader) Ledger(_ context.Context, index uint32) (*LedgerResponse, error) {
	f.calls++
	resp := &LedgerResponse{LedgerIndex: index}
	resp.Ledger.CloseTime = f.closeTimeAt(index)
	return resp, nil
}

func (f *fakeLedgerReader) ValidatedLedger(_ context.Context) (*LedgerResponse, error) {
	return f.Ledger(context.Background(), f.latestIndex)
}

func TestFindLedgerAt(t *testing.T) {
	// One ledger every 4 seconds starting at the epoch.
	reader := &fakeLedgerReader{
		latestIndex: 95_000_000,
		closeTimeAt: func(index uint32) int64 { return int64(index) * 4 },
	}

	target := RippleTimeToUTC(80_000_000 * 4)
	got, err := FindLedgerAt(context.Background(), reader, target)
	require.NoError(t, err)
	assert.Equal(t, uint32(80_000_000), got)

	// Binary search must stay logarithmic.
	assert.Less(t, reader.calls, 64)
}

func TestFindLedgerAtBetweenCloses(t *testing.T) {
	reader := &fakeLedgerReader{
		latestIndex: 1_000_000,
		closeTimeAt: func(index uint32) int64 { return int64(index) * 10 },
	}

	// A time strictly between two closes resolves to the next ledger.
	got, err := FindLedgerAt(context.Background(), reader, RippleTimeToUTC(500_005))
	require.NoError(t, err)
	assert.Equal(t, uint32(50_001), got)
}

func TestFindLedgerAtAfterTip(t *testing.T) {
	reader := &fakeLedgerReader{
		latestIndex: 100_000,
		closeTimeAt: func(index uint32) int64 { return int64(index) },
	}
	_, err := FindLedgerAt(context.Background(), reader, time.Now().Add(24*time.Hour))
	assert.Error(t, err)
}
