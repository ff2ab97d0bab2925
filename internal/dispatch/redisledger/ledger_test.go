package redisledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_Keys(t *testing.T) {
	l := New(nil, "")
	at := time.Date(2026, 3, 4, 9, 15, 0, 0, time.UTC)

	assert.Equal(t, "dispatch:usage:conn-1:h:2026030409", l.hourKey("conn-1", at))
	assert.Equal(t, "dispatch:usage:conn-1:d:20260304", l.dayKey("conn-1", at))
}

func TestLedger_KeysFollowLocation(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	l := New(nil, "x")
	at := time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC).In(loc)

	assert.Equal(t, "x:c:d:20260303", l.dayKey("c", at))
	assert.Equal(t, "x:c:h:2026030322", l.hourKey("c", at))
}

func TestToInt(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		want    int
		wantErr bool
	}{
		{"missing key", nil, 0, false},
		{"counter", "42", 42, false},
		{"garbage", "abc", 0, true},
		{"wrong type", 3.5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toInt(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
