package match

import "testing"

func TestDeleteTrackerFamilyDeleteShadowsAnyEarlierOrEqualPut(t *testing.T) {
	dt := newDeleteTracker()
	dt.add(cell("row1", "f", "", 20, 14)) // DeleteFamily

	if got := dt.isDeleted(put("row1", "f", "q", 20)); got != FamilyDeleted {
		t.Fatalf("at exact timestamp: got %v, want FamilyDeleted", got)
	}
	if got := dt.isDeleted(put("row1", "f", "q", 10)); got != FamilyDeleted {
		t.Fatalf("below timestamp: got %v, want FamilyDeleted", got)
	}
	if got := dt.isDeleted(put("row1", "f", "q", 30)); got != NotDeleted {
		t.Fatalf("above timestamp: got %v, want NotDeleted", got)
	}
}

func TestDeleteTrackerColumnDeleteOnlyShadowsItsOwnQualifier(t *testing.T) {
	dt := newDeleteTracker()
	dt.add(cell("row1", "f", "q1", 20, 12)) // DeleteColumn

	if got := dt.isDeleted(put("row1", "f", "q1", 10)); got != ColumnDeleted {
		t.Fatalf("q1 below timestamp: got %v, want ColumnDeleted", got)
	}
	if got := dt.isDeleted(put("row1", "f", "q2", 10)); got != NotDeleted {
		t.Fatalf("different qualifier: got %v, want NotDeleted", got)
	}
}

func TestDeleteTrackerPointDeleteShadowsOnlyExactTimestamp(t *testing.T) {
	dt := newDeleteTracker()
	dt.add(cell("row1", "f", "q", 20, 8)) // Delete

	if got := dt.isDeleted(put("row1", "f", "q", 20)); got != VersionDeleted {
		t.Fatalf("exact timestamp: got %v, want VersionDeleted", got)
	}
	if got := dt.isDeleted(put("row1", "f", "q", 10)); got != NotDeleted {
		t.Fatalf("earlier timestamp: got %v, want NotDeleted (point delete is not <=)", got)
	}
}

func TestDeleteTrackerResetClearsAllTombstoneState(t *testing.T) {
	dt := newDeleteTracker()
	dt.add(cell("row1", "f", "", 20, 14))
	dt.reset()

	if got := dt.isDeleted(put("row1", "f", "q", 10)); got != NotDeleted {
		t.Fatalf("after reset: got %v, want NotDeleted", got)
	}
}

func TestVersionCounterCountsPerQualifierIndependently(t *testing.T) {
	vc := newVersionCounter()

	if !vc.countAndCheck([]byte("q1"), 2) {
		t.Fatal("q1 v1 should be within MaxVersions=2")
	}
	if !vc.countAndCheck([]byte("q1"), 2) {
		t.Fatal("q1 v2 should be within MaxVersions=2")
	}
	if vc.countAndCheck([]byte("q1"), 2) {
		t.Fatal("q1 v3 should exceed MaxVersions=2")
	}
	if !vc.countAndCheck([]byte("q2"), 2) {
		t.Fatal("q2 v1 should be counted independently of q1")
	}
}

func TestVersionCounterZeroMaxVersionsIsUnlimited(t *testing.T) {
	vc := newVersionCounter()
	for i := 0; i < 10; i++ {
		if !vc.countAndCheck([]byte("q1"), 0) {
			t.Fatal("MaxVersions=0 should never report exceeded")
		}
	}
}
