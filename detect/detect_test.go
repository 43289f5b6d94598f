package detect_test

import (
	"testing"
	"time"

	"github.com/ponysql/ponysql-go/detect"
)

func TestBelowThreshold(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	tmpl := "SELECT id, name FROM users WHERE id = ?"

	for i := range 4 {
		r := d.Record(tmpl, now.Add(time.Duration(i)*100*time.Millisecond))
		if r.Matched {
			t.Fatal("unexpected match before threshold")
		}
		if r.Alert != nil {
			t.Fatal("unexpected alert before threshold")
		}
	}
}

func TestAtThreshold(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	tmpl := "SELECT id, name FROM users WHERE id = ?"

	for i := range 4 {
		d.Record(tmpl, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	r := d.Record(tmpl, now.Add(400*time.Millisecond))
	if !r.Matched {
		t.Fatal("expected matched at threshold")
	}
	if r.Alert == nil {
		t.Fatal("expected alert at threshold")
	}
	if r.Alert.Count != 5 {
		t.Fatalf("got count %d, want 5", r.Alert.Count)
	}
	if r.Alert.Template != tmpl {
		t.Fatalf("got template %q, want %q", r.Alert.Template, tmpl)
	}
}

func TestMatchedAfterThreshold(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	tmpl := "SELECT id, name FROM users WHERE id = ?"

	// Cross threshold.
	for i := range 5 {
		d.Record(tmpl, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	// Subsequent events within window should be matched but no alert (cooldown).
	for i := range 5 {
		r := d.Record(tmpl, now.Add(time.Duration(500+i*100)*time.Millisecond))
		if !r.Matched {
			t.Fatalf("event %d: expected matched after threshold", i)
		}
		if r.Alert != nil {
			t.Fatalf("event %d: expected cooldown to suppress alert", i)
		}
	}
}

func TestWindowExpiry(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	tmpl := "SELECT id, name FROM users WHERE id = ?"

	// 3 queries in first batch.
	for i := range 3 {
		d.Record(tmpl, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	// 3 queries after window expires. Total 6, but only 3 in window.
	after := now.Add(2 * time.Second)
	for i := range 3 {
		r := d.Record(tmpl, after.Add(time.Duration(i)*100*time.Millisecond))
		if r.Matched {
			t.Fatal("unexpected match: only 3 in window")
		}
	}
}

func TestCooldownExpiry(t *testing.T) {
	t.Parallel()
	d := detect.New(5, 2*time.Second, time.Second)
	now := time.Now()
	tmpl := "SELECT id, name FROM users WHERE id = ?"

	// Trigger first alert.
	for i := range 5 {
		d.Record(tmpl, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	// After cooldown expires, should alert again.
	after := now.Add(1500 * time.Millisecond)
	r := d.Record(tmpl, after)
	if !r.Matched {
		t.Fatal("expected matched after cooldown expired")
	}
	if r.Alert == nil {
		t.Fatal("expected alert after cooldown expired")
	}
}

func TestDifferentTemplates(t *testing.T) {
	t.Parallel()
	d := detect.New(3, time.Second, 10*time.Second)
	now := time.Now()
	tmpl1 := "SELECT id, name FROM users WHERE id = ?"
	tmpl2 := "SELECT id, title FROM posts WHERE user_id = ?"

	// Interleave: 2 of each, below threshold for both.
	d.Record(tmpl1, now)
	d.Record(tmpl2, now.Add(100*time.Millisecond))
	d.Record(tmpl1, now.Add(200*time.Millisecond))
	d.Record(tmpl2, now.Add(300*time.Millisecond))

	// tmpl1 hits threshold.
	r := d.Record(tmpl1, now.Add(400*time.Millisecond))
	if r.Alert == nil {
		t.Fatal("expected alert for tmpl1")
	}
	if r.Alert.Template != tmpl1 {
		t.Fatalf("got template %q, want %q", r.Alert.Template, tmpl1)
	}

	// tmpl2 also hits threshold (3 occurrences).
	r = d.Record(tmpl2, now.Add(500*time.Millisecond))
	if r.Alert == nil {
		t.Fatal("expected alert for tmpl2")
	}
	if r.Alert.Template != tmpl2 {
		t.Fatalf("got template %q, want %q", r.Alert.Template, tmpl2)
	}
}

func TestEmptyTemplate(t *testing.T) {
	t.Parallel()
	d := detect.New(1, time.Second, 10*time.Second)
	r := d.Record("", time.Now())
	if r.Matched {
		t.Fatal("expected no match for an empty template")
	}
}
