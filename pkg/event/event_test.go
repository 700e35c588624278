package event

import "testing"

func testClass() Class {
	// Daily slots starting 2024-01-01 00:00 UTC.
	return NewClass("btcusd", 1700000000, "BTCUSD", 6, 0, 1704067200, 86400, 2019682800, "02aa")
}

func TestNextEventTime(t *testing.T) {
	c := testClass()

	cases := []struct {
		at   int64
		want int64
	}{
		{1704067200, 1704067200}, // exactly on a slot
		{1704067201, 1704153600}, // just past a slot
		{1704067199, 1704067200}, // just before the first slot
		{0, 1704067200},          // long before first
		{2019600001, 0},          // no aligned slot left before last
		{2019682801, 0},          // past last entirely
	}
	for _, cs := range cases {
		if got := c.NextEventTime(cs.at); got != cs.want {
			t.Errorf("NextEventTime(%d) = %d, want %d", cs.at, got, cs.want)
		}
	}
}

func TestEventID(t *testing.T) {
	if got := EventID("BTCUSD", 1704067200); got != "btcusd1704067200" {
		t.Errorf("EventID = %q", got)
	}
}

func TestEventAt(t *testing.T) {
	c := testClass()
	ev := c.EventAt(1704067200)
	if ev.EventID != "btcusd1704067200" {
		t.Errorf("EventID = %q", ev.EventID)
	}
	if ev.ClassID != "btcusd" || ev.Definition != "BTCUSD" {
		t.Errorf("class/definition = %q/%q", ev.ClassID, ev.Definition)
	}
	// Template carries the concrete event id, digit placeholders remain.
	want := "Outcome:btcusd1704067200:{digit_index}:{digit_outcome}"
	if ev.StringTemplate != want {
		t.Errorf("template = %q, want %q", ev.StringTemplate, want)
	}
}

func TestSlotTimes(t *testing.T) {
	c := NewClass("x", 0, "X", 3, 0, 100, 60, 280, "02aa")
	ts := c.SlotTimes()
	want := []int64{100, 160, 220, 280}
	if len(ts) != len(want) {
		t.Fatalf("slot count = %d, want %d", len(ts), len(want))
	}
	for i := range want {
		if ts[i] != want[i] {
			t.Errorf("slot[%d] = %d, want %d", i, ts[i], want[i])
		}
	}
}

func TestTimeRangeSnapping(t *testing.T) {
	c := testClass()

	s, e := c.TimeRange(1704067201, 1704153599)
	if s != 1704067200 {
		t.Errorf("start = %d, want 1704067200", s)
	}
	if e != 1704153600 {
		t.Errorf("end = %d, want 1704153600", e)
	}

	// Already aligned times stay put.
	s, e = c.TimeRange(1704067200, 1704153600)
	if s != 1704067200 || e != 1704153600 {
		t.Errorf("aligned range = (%d, %d)", s, e)
	}
}

func TestTimeRangeNegativeStart(t *testing.T) {
	c := NewClass("x", 0, "X", 3, 0, 100, 60, 1<<40, "02aa")
	// Offset is 40; start below the offset must still floor correctly.
	s, _ := c.TimeRange(-25, 200)
	if s != -80 {
		t.Errorf("start = %d, want -80", s)
	}
}

func TestOffsetClass(t *testing.T) {
	// Slots at 30 past each minute.
	c := NewClass("y", 0, "Y", 3, 0, 90, 60, 1<<40, "02aa")
	if c.OffsetSec != 30 {
		t.Fatalf("offset = %d, want 30", c.OffsetSec)
	}
	if got := c.NextEventTime(91); got != 150 {
		t.Errorf("NextEventTime(91) = %d, want 150", got)
	}
	if got := c.NextEventTime(150); got != 150 {
		t.Errorf("NextEventTime(150) = %d, want 150", got)
	}
}

func TestDefaultTemplate(t *testing.T) {
	c := testClass()
	want := "Outcome:{event_id}:{digit_index}:{digit_outcome}"
	if c.StringTemplate != want {
		t.Errorf("template = %q, want %q", c.StringTemplate, want)
	}
}
