package platform_test

import (
	"testing"

	"github.com/polypm-dev/polypm/internal/platform"
)

func TestParseWheelFilename(t *testing.T) {
	name, version, tag, err := platform.ParseWheelFilename("flask-3.0.0-py3-none-any.whl")
	if err != nil {
		t.Fatalf("ParseWheelFilename: %v", err)
	}

	if name != "flask" || version != "3.0.0" {
		t.Fatalf("got name=%q version=%q", name, version)
	}

	if tag.Python != "py3" || tag.ABI != "none" || tag.Platform != "any" {
		t.Fatalf("got tag %+v", tag)
	}
}

func TestSelectWheelPrefersExactMatch(t *testing.T) {
	files := []platform.File{
		{Filename: "pkg-1.0.0-py3-none-any.whl", PackageType: "bdist_wheel"},
		{Filename: "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl", PackageType: "bdist_wheel"},
		{Filename: "pkg-1.0.0.tar.gz", PackageType: "sdist"},
	}

	tags := platform.HostTags("312", "manylinux_2_17_x86_64")

	best, err := platform.SelectWheel(files, tags)
	if err != nil {
		t.Fatalf("SelectWheel: %v", err)
	}

	if best.Filename != "pkg-1.0.0-cp312-cp312-manylinux_2_17_x86_64.whl" {
		t.Fatalf("got %q", best.Filename)
	}
}

func TestSelectWheelFallsBackToUniversal(t *testing.T) {
	files := []platform.File{
		{Filename: "pkg-1.0.0-py3-none-any.whl", PackageType: "bdist_wheel"},
	}

	tags := platform.HostTags("312", "manylinux_2_17_x86_64")

	best, err := platform.SelectWheel(files, tags)
	if err != nil {
		t.Fatalf("SelectWheel: %v", err)
	}

	if best.Filename != "pkg-1.0.0-py3-none-any.whl" {
		t.Fatalf("got %q", best.Filename)
	}
}

func TestSelectWheelNoCompatibleFile(t *testing.T) {
	files := []platform.File{
		{Filename: "pkg-1.0.0-cp39-cp39-win_amd64.whl", PackageType: "bdist_wheel"},
	}

	tags := platform.HostTags("312", "manylinux_2_17_x86_64")

	if _, err := platform.SelectWheel(files, tags); err == nil {
		t.Fatal("expected no compatible wheel error")
	}
}
