package oauth

import (
	"fmt"
	"testing"
)

func TestAuthCodeLog_NeverExceedsCapacity(t *testing.T) {
	log := NewAuthCodeLog(3, true)

	for i := 0; i < 10; i++ {
		log.Add(AuthCodeRecord{State: fmt.Sprintf("state-%d", i), Code: fmt.Sprintf("code-%d", i)})
		if n := len(log.Recent()); n > 3 {
			t.Fatalf("after %d adds Recent() has %d records, capacity is 3", i+1, n)
		}
	}

	recent := log.Recent()
	want := []string{"state-7", "state-8", "state-9"}
	for i, rec := range recent {
		if rec.State != want[i] {
			t.Errorf("Recent()[%d].State = %s, want %s", i, rec.State, want[i])
		}
	}
}

func TestAuthCodeLog_MasksCodes(t *testing.T) {
	tests := []struct {
		name     string
		fullCode bool
		code     string
		want     string
	}{
		{name: "masked", code: "abcdef123456", want: "abcdef...(12)"},
		{name: "short code masked", code: "abc", want: "***(3)"},
		{name: "error callback has no code", code: "", want: ""},
		{name: "full code", fullCode: true, code: "abcdef123456", want: "abcdef123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := NewAuthCodeLog(5, tt.fullCode)
			log.Add(AuthCodeRecord{State: "s", Code: tt.code})

			got := log.Recent()[0].Code
			if got != tt.want {
				t.Errorf("Code = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthCodeLog_RecentReturnsCopy(t *testing.T) {
	log := NewAuthCodeLog(2, false)
	log.Add(AuthCodeRecord{State: "one"})

	recent := log.Recent()
	recent[0].State = "changed"

	if log.Recent()[0].State != "one" {
		t.Error("Recent() must not expose the internal buffer")
	}
}

func TestAuthCodeLog_DefaultCapacity(t *testing.T) {
	if got := NewAuthCodeLog(0, false).Capacity(); got != DefaultAuthCodesCapacity {
		t.Errorf("Capacity() = %d, want %d", got, DefaultAuthCodesCapacity)
	}
}
