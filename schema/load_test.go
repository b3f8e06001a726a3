// Copyright 2024 the Sinter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"strings"
	"testing"
)

const miniDoc = `{
  "v1": {
    "opcodes": {"PING": 1, "WRITE": 2},
    "structs": {
      "Owner": {
        "fields": {
          "uid": {"offset": 0, "size": 32},
          "gid": {"offset": 32, "size": 32}
        }
      },
      "PingIn": {
        "fields": {
          "owner": {"offset": 0, "struct": "Owner"},
          "seq": {"offset": 64, "size": 32}
        }
      },
      "PingOut": {
        "fields": {
          "msg": {}
        }
      }
    },
    "operations": {
      "PING": {"request": {"struct": "PingIn"}, "response": {"struct": "PingOut"}},
      "WRITE": {}
    }
  }
}`

func TestLoadBytes(t *testing.T) {
	s, err := LoadBytes([]byte(miniDoc), "v1")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if s.Version != "v1" {
		t.Fatalf("Version = %q, want v1", s.Version)
	}
	if _, ok := s.Opcodes["PING"]; !ok {
		t.Fatal("PING opcode missing")
	}
	op := s.Operations["WRITE"]
	if !op.Request.Absent || !op.Response.Absent {
		t.Fatalf("WRITE operation = %+v, want both sides absent", op)
	}
}

func TestLoadUnknownVersion(t *testing.T) {
	if _, err := LoadBytes([]byte(miniDoc), "v2"); err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestLoadOpcodeCollision(t *testing.T) {
	doc := `{"v1": {"opcodes": {"A": 1, "B": 1}, "structs": {}, "operations": {}}}`
	_, err := LoadBytes([]byte(doc), "v1")
	if err == nil || !strings.Contains(err.Error(), "claimed by both") {
		t.Fatalf("err = %v, want opcode collision", err)
	}
}

func TestFlattenOrdersByOffset(t *testing.T) {
	s, err := LoadBytes([]byte(miniDoc), "v1")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	fs, err := s.Flatten("PingIn")
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(fs.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(fs.Fields))
	}
	if fs.Fields[0].Name != "owner" || fs.Fields[0].Kind != KindStructSingle {
		t.Fatalf("Fields[0] = %+v, want nested owner struct first", fs.Fields[0])
	}
	if fs.Fields[1].Name != "seq" {
		t.Fatalf("Fields[1] = %+v, want seq second", fs.Fields[1])
	}
	// nested struct fields stay on Sub, not merged into the parent.
	if len(fs.Fields[0].Sub.Fields) != 2 {
		t.Fatalf("Sub.Fields = %d, want 2", len(fs.Fields[0].Sub.Fields))
	}
}

func TestFlattenTrailingField(t *testing.T) {
	s, err := LoadBytes([]byte(miniDoc), "v1")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	fs, err := s.Flatten("PingOut")
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(fs.Fields) != 1 || fs.Fields[0].Kind != KindTrailing {
		t.Fatalf("Fields = %+v, want single trailing field", fs.Fields)
	}
}

func TestFlattenRejectsGap(t *testing.T) {
	doc := `{
  "v1": {
    "opcodes": {"A": 1},
    "structs": {
      "Gappy": {
        "fields": {
          "a": {"offset": 0, "size": 32},
          "b": {"offset": 96, "size": 32}
        }
      }
    },
    "operations": {"A": {"request": {"struct": "Gappy"}}}
  }
}`
	_, err := LoadBytes([]byte(doc), "v1")
	if err == nil || !strings.Contains(err.Error(), "non-contiguous") {
		t.Fatalf("err = %v, want non-contiguous offset error", err)
	}
}

func TestFlattenRejectsFixedAfterVariable(t *testing.T) {
	// "num" has no offset, so it sorts among the variable-length fields by
	// cstring position; since it has no cstringposition either, it lands
	// after "name" (position 0) while still being a fixed-size int field.
	doc := `{
  "v1": {
    "opcodes": {"A": 1},
    "structs": {
      "Bad": {
        "fields": {
          "name": {"cstringposition": 0},
          "num": {"size": 32}
        }
      }
    },
    "operations": {"A": {"request": {"struct": "Bad"}}}
  }
}`
	_, err := LoadBytes([]byte(doc), "v1")
	if err == nil || !strings.Contains(err.Error(), "follows a variable-length field") {
		t.Fatalf("err = %v, want fixed-after-variable error", err)
	}
}

func TestFlattenRejectsNameCollisionAcrossNesting(t *testing.T) {
	doc := `{
  "v1": {
    "opcodes": {"A": 1},
    "structs": {
      "Inner": {"fields": {"x": {"offset": 0, "size": 32}}},
      "Outer": {
        "fields": {
          "x": {"offset": 0, "size": 32},
          "inner": {"offset": 32, "struct": "Inner"}
        }
      }
    },
    "operations": {"A": {"request": {"struct": "Outer"}}}
  }
}`
	_, err := LoadBytes([]byte(doc), "v1")
	if err == nil || !strings.Contains(err.Error(), "collides") {
		t.Fatalf("err = %v, want name collision error", err)
	}
}
