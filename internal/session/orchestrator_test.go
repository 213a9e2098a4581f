package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		Init:            "INIT",
		TracerSpawned:   "TRACER_SPAWNED",
		SandboxReady:    "SANDBOX_READY",
		EmulatorRunning: "EMULATOR_RUNNING",
		Drain:           "DRAIN",
		Cleaned:         "CLEANED",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestSessionName_SanitizesPathSeparators(t *testing.T) {
	assert.Equal(t, "qguardian-bin_target", sessionName("bin/target"))
}

func TestNew_DefaultsSessionTimeout(t *testing.T) {
	s := New(Config{TargetBinary: "victim"})
	assert.Equal(t, defaultSessionTimeout, s.cfg.SessionTimeout)
	assert.Equal(t, Init, s.State())
}
