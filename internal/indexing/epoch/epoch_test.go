package epoch

import "testing"

func TestSchedule_IsEpochStart(t *testing.T) {
	s := Schedule{Tempo: 360}

	tests := []struct {
		block  uint64
		netuid uint16
		want   bool
	}{
		// (block + netuid + 2) % 361 == 0
		{359, 0, true},
		{358, 1, true},
		{719, 1, true},
		{360, 1, false},
		{361 - 2 - 18, 18, true},
		{0, 0, false},
	}

	for _, tt := range tests {
		if got := s.IsEpochStart(tt.block, tt.netuid); got != tt.want {
			t.Errorf("IsEpochStart(%d, %d) = %v, want %v", tt.block, tt.netuid, got, tt.want)
		}
	}
}

func TestSchedule_DefaultTempo(t *testing.T) {
	var s Schedule
	if !s.IsEpochStart(359, 0) {
		t.Error("expected default tempo 360")
	}
}

func TestSchedule_OncePerEpochLength(t *testing.T) {
	s := Schedule{Tempo: 99}
	for netuid := uint16(0); netuid < 5; netuid++ {
		count := 0
		for b := uint64(1000); b < 1000+100; b++ {
			if s.IsEpochStart(b, netuid) {
				count++
			}
		}
		if count != 1 {
			t.Errorf("netuid %d: expected 1 epoch start per 100 blocks, got %d", netuid, count)
		}
	}
}

func TestSchedule_BlocksUntilNext(t *testing.T) {
	s := Schedule{Tempo: 360}
	for _, b := range []uint64{0, 100, 357, 358, 359} {
		n := s.BlocksUntilNext(b, 1)
		if !s.IsEpochStart(b+n, 1) {
			t.Errorf("block %d + %d is not an epoch start", b, n)
		}
	}
	if s.BlocksUntilNext(358, 1) != 0 {
		t.Error("expected 0 at an epoch start")
	}
}

func TestSchedule_PerSubnetTempo(t *testing.T) {
	s := Schedule{Tempo: 360, Tempos: map[uint16]uint64{7: 9}}
	// length 10: (block + 7 + 2) % 10 == 0
	if !s.IsEpochStart(11, 7) {
		t.Error("expected override tempo for netuid 7")
	}
	if s.IsEpochStart(11, 8) {
		t.Error("netuid 8 uses the default tempo")
	}
}

func TestStarting(t *testing.T) {
	o := OracleFunc(func(block uint64, netuid uint16) bool {
		return block%uint64(netuid) == 0
	})
	got := Starting(o, 20, []uint16{3, 4, 5, 6})
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("expected [4 5], got %v", got)
	}
}
