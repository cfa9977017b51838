package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *HostError
		want string
	}{
		{"plain", RuntimeError("boom"), "[RUNTIME] boom"},
		{"section", ConfigSectionError("group"), "[CONFIG_SECTION:group] section 'group' not found"},
		{"option", ConfigOptionError("stepper x", "rpm"), "[CONFIG_OPTION:rpm] option 'rpm' not found in section 'stepper x'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeOfWrapped(t *testing.T) {
	base := GroupSizeError(5, 2, 4)
	wrapped := fmt.Errorf("build group: %w", base)

	if got := CodeOf(wrapped); got != ErrGroupSize {
		t.Errorf("CodeOf = %q, want %q", got, ErrGroupSize)
	}
	if !Is(wrapped, ErrGroupSize) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if !IsGroup(wrapped) {
		t.Error("IsGroup should be true for GROUP_SIZE")
	}
	if IsConfig(wrapped) {
		t.Error("IsConfig should be false for GROUP_SIZE")
	}
	if CodeOf(stderrors.New("plain")) != "" {
		t.Error("CodeOf of a plain error should be empty")
	}
}

func TestStdErrorsIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("move: %w", GroupBusyError("move"))
	if !stderrors.Is(err, New(ErrGroupBusy, "")) {
		t.Error("errors.Is should match on code")
	}
	if stderrors.Is(err, New(ErrGroupSize, "")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("not a number")
	err := ConfigTypeError("stepper x", "rpm", "fast", "float", cause)
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause should be reachable")
	}
	if !strings.Contains(err.Error(), "failed to parse 'fast' as float") {
		t.Errorf("unexpected message: %s", err)
	}
}

func TestSetContext(t *testing.T) {
	err := GroupMotorError(2, "nil motor")
	if err.Context["index"] != 2 {
		t.Errorf("context index = %v, want 2", err.Context["index"])
	}
	err.SetContext("group", "xy")
	if err.Context["group"] != "xy" {
		t.Error("SetContext did not store value")
	}
}
