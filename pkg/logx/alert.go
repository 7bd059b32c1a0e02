package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	alertMaxLine  = 1000
	alertMaxValue = 200
)

var alertSkipKeys = map[string]bool{"time": true, "level": true, "message": true}

func alertLine(p []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &ev); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxLine)
	}

	var b strings.Builder
	if lvl, _ := ev["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := ev["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(ev))
	for k := range ev {
		if !alertSkipKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, clip(fmt.Sprint(ev[k]), alertMaxValue))
	}
	return clip(b.String(), alertMaxLine)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
