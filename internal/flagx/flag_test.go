package flagx

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var settingsFlags = []string{"-s", "-u", "-d", "-r", "-p", "-t", "-l", "-e"}

func TestPick(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		names []string
		want  []string
	}{
		{
			name:  "separate values",
			args:  []string{"-s", "https://api.example.com", "-d", "otp.db"},
			names: settingsFlags,
			want:  []string{"-s", "https://api.example.com", "-d", "otp.db"},
		},
		{
			name:  "equals form",
			args:  []string{"-l=debug", "--r=localhost:6379"},
			names: settingsFlags,
			want:  []string{"-l=debug", "--r=localhost:6379"},
		},
		{
			name:  "foreign flags dropped",
			args:  []string{"-c", "conf.json", "-p", "250", "-v"},
			names: settingsFlags,
			want:  []string{"-p", "250"},
		},
		{
			name:  "config flags only",
			args:  []string{"-s", "https://api.example.com", "-config", "conf.json"},
			names: []string{"-c", "-config"},
			want:  []string{"-config", "conf.json"},
		},
		{
			name:  "flag at end has no value",
			args:  []string{"-t"},
			names: settingsFlags,
			want:  []string{"-t"},
		},
		{
			name:  "next dash argument is not a value",
			args:  []string{"-e", "-l", "warn"},
			names: settingsFlags,
			want:  []string{"-e", "-l", "warn"},
		},
		{
			name:  "positional arguments ignored",
			args:  []string{"status", "-l", "info", "extra"},
			names: settingsFlags,
			want:  []string{"-l", "info"},
		},
		{
			name:  "double dash ends scan",
			args:  []string{"-l", "info", "--", "-s", "x"},
			names: settingsFlags,
			want:  []string{"-l", "info"},
		},
		{
			name:  "empty",
			args:  nil,
			names: settingsFlags,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pick(tt.args, tt.names...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Pick() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "", ConfigPath([]string{"-s", "https://api.example.com"}))
	assert.Equal(t, "conf.json", ConfigPath([]string{"-c", "conf.json"}))
	assert.Equal(t, "conf.json", ConfigPath([]string{"--config=conf.json", "-l", "debug"}))
	assert.Equal(t, "second.json", ConfigPath([]string{"-c", "first.json", "-config", "second.json"}))
}
