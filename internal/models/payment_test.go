package models

import "testing"

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{StatusPending, StatusUnallocated, true},
		{StatusPending, StatusPosted, true},
		{StatusUnallocated, StatusPosted, true},
		{StatusPosted, StatusSettled, true},
		{StatusPosted, StatusPosted, true},
		{StatusPosted, StatusPending, false},
		{StatusSettled, StatusPosted, false},
		{StatusUnallocated, StatusPending, false},
		{StatusUnallocated, StatusRejected, true},
		{StatusSettled, StatusRejected, false},
		{StatusRejected, StatusPosted, false},
		{StatusPending, PaymentStatus("BOGUS"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePaymentStatus(t *testing.T) {
	for _, s := range PaymentStatuses {
		if _, err := ParsePaymentStatus(string(s)); err != nil {
			t.Errorf("ParsePaymentStatus(%s) failed: %v", s, err)
		}
	}
	if _, err := ParsePaymentStatus("posted"); err == nil {
		t.Error("statuses are case sensitive")
	}
}

func TestMergeIngested(t *testing.T) {
	t.Run("higher rank replaces links", func(t *testing.T) {
		p := &Payment{Status: StatusUnallocated, GroupID: "g1", CooperativeID: "c1"}
		changed := p.MergeIngested(&Payment{Status: StatusPosted, GroupID: "g1", MemberID: "m1", CooperativeID: "c1"})
		if !changed || p.Status != StatusPosted || p.MemberID != "m1" {
			t.Errorf("merge result %+v, changed=%v", p, changed)
		}
	})

	t.Run("higher rank keeps links it does not carry", func(t *testing.T) {
		p := &Payment{Status: StatusPending, GroupID: "g1", MemberID: "m1", CooperativeID: "c1"}
		changed := p.MergeIngested(&Payment{Status: StatusUnallocated})
		if !changed || p.Status != StatusUnallocated {
			t.Errorf("status not promoted: %+v, changed=%v", p, changed)
		}
		if p.GroupID != "g1" || p.MemberID != "m1" || p.CooperativeID != "c1" {
			t.Errorf("links cleared: %+v", p)
		}
	})

	t.Run("lower rank never regresses", func(t *testing.T) {
		p := &Payment{Status: StatusPosted, GroupID: "g1", MemberID: "m1", Confidence: 1}
		changed := p.MergeIngested(&Payment{Status: StatusUnallocated, GroupID: "g1", Confidence: 1})
		if changed || p.Status != StatusPosted || p.MemberID != "m1" {
			t.Errorf("merge regressed: %+v, changed=%v", p, changed)
		}
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		p := &Payment{Status: StatusRejected, Confidence: 1}
		p.MergeIngested(&Payment{Status: StatusPosted, GroupID: "g1", Confidence: 1})
		if p.Status != StatusRejected || p.GroupID != "" {
			t.Errorf("rejected payment changed: %+v", p)
		}
	})

	t.Run("fills missing reference and source", func(t *testing.T) {
		p := &Payment{Status: StatusPending, Confidence: 0.5}
		p.MergeIngested(&Payment{Status: StatusPending, Reference: "A.B", SourceID: "s1", Confidence: 1})
		if p.Reference != "A.B" || p.SourceID != "s1" || p.Confidence != 1 {
			t.Errorf("gaps not filled: %+v", p)
		}
	})
}
