package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/dappfactory/orderflow/internal/generator"
)

func TestPackageAndRead(t *testing.T) {
	p, err := NewZipPackager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	files := []generator.File{
		{Path: "src/lib.rs", Content: "pub fn main() {}\n", Language: "rust"},
		{Path: "README.md", Content: "# Demo Token\n", Language: "markdown"},
	}
	location, size, err := p.Package(ctx, "order-1", "Demo Token", files, `{"name":"demo-token"}`)
	if err != nil {
		t.Fatal(err)
	}
	if size <= 0 {
		t.Errorf("size = %d, want positive", size)
	}

	data, err := p.Read(ctx, location)
	if err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"demo-token/src/lib.rs":   "pub fn main() {}\n",
		"demo-token/README.md":    "# Demo Token\n",
		"demo-token/package.json": `{"name":"demo-token"}`,
	}
	if len(zr.File) != len(want) {
		t.Fatalf("archive has %d entries, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		wantContent, ok := want[f.Name]
		if !ok {
			t.Errorf("unexpected entry %q", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != wantContent {
			t.Errorf("entry %q content = %q, want %q", f.Name, got, wantContent)
		}
	}
}

func TestPackageRejectsEmptyFileSet(t *testing.T) {
	p, err := NewZipPackager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Package(context.Background(), "order-1", "demo", nil, ""); err == nil {
		t.Fatal("empty file set must be rejected")
	}
}

func TestLocate(t *testing.T) {
	p, err := NewZipPackager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := p.Locate("never-packaged"); err == nil {
		t.Fatal("locating an unwritten archive must fail")
	}

	location, _, err := p.Package(ctx, "order-1", "demo", []generator.File{{Path: "a.txt", Content: "x"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	found, err := p.Locate("order-1")
	if err != nil {
		t.Fatal(err)
	}
	if found != location {
		t.Errorf("Locate = %q, want %q", found, location)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"Demo Token":   "demo-token",
		"  MyApp_v2 ":  "myapp-v2",
		"!!!":          "project",
		"":             "project",
		"already-fine": "already-fine",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
