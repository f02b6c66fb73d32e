package main

import (
	"path/filepath"
	"testing"

	"github.com/packrat-backup/packrat/store"
)

const (
	typeMemory = iota
	typeFileSystem
	typeS3
	typeNil
)

func TestSplitBucketPrefix(t *testing.T) {
	var table = []struct {
		location string
		bucket   string
		prefix   string
	}{
		{"", "", ""},
		{"rel/path", "rel", "path/"},
		{"/abs/path/", "abs", "path/"},
		{"/bucket", "bucket", ""},
		{"/bucket/prefix/", "bucket", "prefix/"},
		{"/bucket/prefix", "bucket", "prefix/"},
		{"/bucket/a/b", "bucket", "a/b/"},
	}

	for _, row := range table {
		t.Log(row.location)
		bucket, prefix := splitBucketPrefix(row.location)
		if bucket != row.bucket {
			t.Error("expected bucket", row.bucket, "received", bucket)
		}
		if prefix != row.prefix {
			t.Error("expected prefix", row.prefix, "received", prefix)
		}
	}
}

func TestParseLocation(t *testing.T) {
	dir := t.TempDir()
	var table = []struct {
		location string
		typ      int
		bucket   string
		prefix   string
	}{
		{"", typeMemory, "", ""},
		{"mem:", typeMemory, "", ""},
		{filepath.Join(dir, "rel/path"), typeFileSystem, "", ""},
		{"file:" + filepath.Join(dir, "other"), typeFileSystem, "", ""},
		{"s3:/bucket", typeS3, "bucket", ""},
		{"s3://localhost:9000/bucket/prefix/", typeS3, "bucket", "prefix/"},
		{"gopher://nope", typeNil, "", ""},
	}

	for _, row := range table {
		t.Log(row.location)
		result := parselocation(row.location)
		if result == nil {
			if row.typ != typeNil {
				t.Errorf("unexpected nil for %s", row.location)
			}
			continue
		}
		switch x := result.(type) {
		case *store.Memory:
			if row.typ != typeMemory {
				t.Errorf("unexpected received %#v", result)
			}
		case *store.FileSystem:
			if row.typ != typeFileSystem {
				t.Errorf("unexpected received %#v", result)
			}
		case *store.S3:
			if row.typ != typeS3 {
				t.Errorf("unexpected received %#v", result)
			}
			if x.Bucket != row.bucket {
				t.Error("expected bucket", row.bucket, "received", x.Bucket)
			}
			if x.Prefix != row.prefix {
				t.Error("expected prefix", row.prefix, "received", x.Prefix)
			}
		}
	}
}
