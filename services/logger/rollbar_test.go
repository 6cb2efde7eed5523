package logsvc

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/trezcool/presence/core"
)

func TestRollbarLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST"})
	logger.Enable(false)

	caller := core.Identity{ID: "stu-1", Role: "student"}
	logger.Error("marking attendance", errors.New("boom"), caller, map[string]interface{}{"session": "s1"})

	got := buf.String()
	for _, want := range []string{"error: marking attendance\n", "boom\n", "map[session:s1]\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output = %q; want it to contain %q", got, want)
		}
	}
	if strings.Contains(got, "stu-1") {
		t.Errorf("output = %q; identity must not be printed", got)
	}

	items, id := split("msg", []interface{}{caller, core.Identity{ID: "stu-2"}, 42})
	if len(items) != 2 || items[0] != "msg" || items[1] != 42 {
		t.Errorf("split() items = %v; want [msg 42]", items)
	}
	if id == nil || *id != caller {
		t.Errorf("split() caller = %v; want %v", id, caller)
	}
}
