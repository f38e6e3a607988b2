package feed

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want Timeframe
	}{
		{in: "M1", want: M1},
		{in: "m5", want: M5},
		{in: " H4 ", want: H4},
		{in: "W1", want: W1},
		{in: "15M", want: DefaultTimeframe},
		{in: "", want: DefaultTimeframe},
		{in: "MN1", want: DefaultTimeframe},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseTimeframe(tt.in); got != tt.want {
				t.Errorf("ParseTimeframe(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeframe_Duration(t *testing.T) {
	if got := H1.Duration(); got != time.Hour {
		t.Errorf("H1.Duration() = %v, want 1h", got)
	}
	if got := Timeframe("bogus").Duration(); got != 15*time.Minute {
		t.Errorf("unknown Duration() = %v, want 15m", got)
	}
}

func TestConnectError_Unwrap(t *testing.T) {
	cause := errors.New("invalid account")
	err := error(&ConnectError{Op: "login", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("errors.Is(ConnectError, cause) = false, want true")
	}
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.Op != "login" {
		t.Errorf("errors.As() op = %v, want login", ce)
	}
	if err.Error() != "feed connect failed during login: invalid account" {
		t.Errorf("Error() = %q", err.Error())
	}
}
