package platform

import (
	"context"
	"runtime"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestRealDetector_Detect(t *testing.T) {
	info, err := NewDetector().Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	if info.OS != runtime.GOOS {
		t.Errorf("OS = %v, want %v", info.OS, runtime.GOOS)
	}
	if info.ArchRaw != runtime.GOARCH {
		t.Errorf("ArchRaw = %v, want %v", info.ArchRaw, runtime.GOARCH)
	}
	if info.Platform != "" && info.Family == "" {
		t.Error("Family should be set when Platform is set")
	}
}

func TestInfoMatches(t *testing.T) {
	linux := &Info{OS: "linux", Arch: "amd64", Family: FamilyDebian}

	tests := []struct {
		name     string
		oses     []string
		arches   []string
		families []string
		want     bool
	}{
		{"no_constraints", nil, nil, nil, true},
		{"os_match", []string{"linux"}, nil, nil, true},
		{"os_mismatch", []string{"windows", "macos"}, nil, nil, false},
		{"arch_alias", nil, []string{"x86_64"}, nil, true},
		{"arch_mismatch", nil, []string{"arm64"}, nil, false},
		{"family_alias", []string{"linux"}, nil, []string{"Ubuntu"}, true},
		{"family_mismatch", nil, nil, []string{"rhel"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := linux.Matches(tt.oses, tt.arches, tt.families); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	mac := &Info{OS: "darwin", Arch: "arm64"}
	if !mac.Matches([]string{"macos"}, []string{"aarch64"}, nil) {
		t.Error("expected macos/aarch64 aliases to match darwin/arm64")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		fn   func(string) string
		in   string
		want string
	}{
		{normalizeArchName, "AARCH64", "arm64"},
		{normalizeArchName, "riscv64", "riscv64"},
		{normalizeOS, "OSX", "darwin"},
		{normalizeOS, "freebsd", "freebsd"},
		{mapFamily, " CentOS ", FamilyRHEL},
		{mapFamily, "nixos", FamilyUnknown},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.in); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInjectPlatformTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{OS: "linux", Arch: "amd64", Platform: "ubuntu", Family: "debian", Version: "22.04"}
	if err := InjectPlatformTable(L, info); err != nil {
		t.Fatalf("InjectPlatformTable() error = %v", err)
	}

	tests := []struct {
		name string
		code string
		want lua.LValue
	}{
		{"os", `return platform.os`, lua.LString("linux")},
		{"arch", `return platform.arch`, lua.LString("amd64")},
		{"is_linux", `return platform.is_linux`, lua.LTrue},
		{"is_windows", `return platform.is_windows`, lua.LFalse},
		{"distro.family", `return platform.distro.family`, lua.LString("debian")},
		{"when_true", `return platform.when(platform.is_linux, "/opt/app")`, lua.LString("/opt/app")},
		{"when_false", `return platform.when(platform.is_windows, "C:/app")`, lua.LNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := L.DoString(tt.code); err != nil {
				t.Fatalf("DoString() error = %v", err)
			}
			got := L.Get(-1)
			L.Pop(1)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if err := L.DoString(`platform.os = "windows"`); err == nil {
		t.Error("expected write to platform table to fail")
	}
}

func TestStaticDetector(t *testing.T) {
	want := &Info{OS: "windows", Arch: "amd64"}
	got, err := StaticDetector{Info: want}.Detect(context.Background())
	if err != nil || got != want {
		t.Errorf("Detect() = %v, %v", got, err)
	}
}
