package manifest

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_YAML(t *testing.T) {
	data := []byte(`
version: "1.0.0"
global_env:
  LOG_LEVEL: info
global_files:
  ./README.md: README.md
processes:
  hello:
    cmd: /bin/echo
    args: ["hi"]
    restart_policy: never
    restart_delay_ms: 0
`)

	c, err := Parse(data, FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", c.Version)
	}
	proc, ok := c.Processes["hello"]
	if !ok {
		t.Fatal("expected process 'hello'")
	}
	if proc.Cmd != "/bin/echo" || proc.RestartPolicy != RestartNever {
		t.Errorf("unexpected process: %+v", proc)
	}
}

func TestParse_TOML(t *testing.T) {
	data := []byte(`
version = "1.0.0"

[global_env]
LOG_LEVEL = "info"

[processes.hello]
cmd = "/bin/echo"
args = ["hi"]
restart_policy = "never"
restart_delay_ms = 0
`)

	c, err := Parse(data, FormatTOML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	proc, ok := c.Processes["hello"]
	if !ok {
		t.Fatal("expected process 'hello'")
	}
	if proc.Cmd != "/bin/echo" {
		t.Errorf("Cmd = %q, want /bin/echo", proc.Cmd)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		data   string
	}{
		{
			name:   "yaml",
			format: FormatYAML,
			data: `
version: "1.0.0"
bogus_field: true
processes:
  hello:
    cmd: /bin/echo
    restart_policy: never
    restart_delay_ms: 0
`,
		},
		{
			name:   "toml",
			format: FormatTOML,
			data: `
version = "1.0.0"
bogus_field = true

[processes.hello]
cmd = "/bin/echo"
restart_policy = "never"
restart_delay_ms = 0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			if err == nil {
				t.Fatal("expected ParseError for unknown field, got nil")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
		})
	}
}

func TestCapsule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		capsule Capsule
		wantErr string
	}{
		{
			name: "no processes",
			capsule: Capsule{
				Version: "1.0.0",
			},
			wantErr: "no processes",
		},
		{
			name: "invalid restart policy",
			capsule: Capsule{
				Version: "1.0.0",
				Processes: map[string]ProcessSpec{
					"p": {Cmd: "/bin/true", RestartPolicy: "sometimes"},
				},
			},
			wantErr: "invalid restart_policy",
		},
		{
			name: "negative restart delay",
			capsule: Capsule{
				Version: "1.0.0",
				Processes: map[string]ProcessSpec{
					"p": {Cmd: "/bin/true", RestartPolicy: RestartNever, RestartDelayMS: -1},
				},
			},
			wantErr: "restart_delay_ms",
		},
		{
			name: "escaping global file destination",
			capsule: Capsule{
				Version:     "1.0.0",
				GlobalFiles: map[string]string{"/src/evil": "../evil"},
				Processes: map[string]ProcessSpec{
					"p": {Cmd: "/bin/true", RestartPolicy: RestartNever},
				},
			},
			wantErr: "escapes its root",
		},
		{
			name: "escaping process file destination",
			capsule: Capsule{
				Version: "1.0.0",
				Processes: map[string]ProcessSpec{
					"p": {
						Cmd:           "/bin/true",
						RestartPolicy: RestartNever,
						Files:         map[string]string{"/src/evil": "../../evil"},
					},
				},
			},
			wantErr: "escapes its root",
		},
		{
			name: "valid",
			capsule: Capsule{
				Version: "1.0.0",
				Processes: map[string]ProcessSpec{
					"p": {Cmd: "/bin/true", RestartPolicy: RestartAlways, RestartDelayMS: 100},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.capsule.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCapsule_Env(t *testing.T) {
	c := &Capsule{
		GlobalEnv: map[string]string{"A": "global", "B": "global"},
		Processes: map[string]ProcessSpec{
			"p": {Env: map[string]string{"B": "proc", "C": "proc"}},
		},
	}

	env := c.Env("p")
	if env["A"] != "global" {
		t.Errorf("A = %q, want global", env["A"])
	}
	if env["B"] != "proc" {
		t.Errorf("B = %q, want proc (process overrides global)", env["B"])
	}
	if env["C"] != "proc" {
		t.Errorf("C = %q, want proc", env["C"])
	}
}

func TestProcessSpec_CwdOrDefault(t *testing.T) {
	p := ProcessSpec{}
	if got := p.CwdOrDefault("worker"); got != "worker" {
		t.Errorf("CwdOrDefault() = %q, want worker", got)
	}
	p.Cwd = "custom"
	if got := p.CwdOrDefault("worker"); got != "custom" {
		t.Errorf("CwdOrDefault() = %q, want custom", got)
	}
}
