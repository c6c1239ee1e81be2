package ids

import (
	"sort"
	"testing"
	"time"
)

func TestNewAtSortsWithinMillisecond(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var got []string
	for i := 0; i < 50; i++ {
		got = append(got, NewAt(at))
	}
	if !sort.StringsAreSorted(got) {
		t.Fatalf("ids minted in one millisecond are not sorted: %v", got)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, int(123*time.Millisecond), time.UTC)
	got, err := Time(NewAt(at))
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
	if _, err := Time("not-an-id"); err == nil {
		t.Fatal("expected parse error")
	}
}
