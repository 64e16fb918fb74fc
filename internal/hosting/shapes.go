package hosting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// envelope is the outer object every API response shares.
type envelope struct {
	Status json.RawMessage `json:"status"`
	Msg    string          `json:"msg"`
	Result json.RawMessage `json:"result"`
}

func (e envelope) statusCode() int {
	raw := bytes.Trim(bytes.TrimSpace(e.Status), `"`)
	n, _ := strconv.Atoi(string(raw))
	return n
}

func (e envelope) ok() bool {
	return e.statusCode() == 200 || strings.EqualFold(strings.TrimSpace(e.Msg), "OK")
}

// resultObject returns Result as an object, unwrapping a one-element list.
func (e envelope) resultObject() (map[string]any, bool) {
	raw := bytes.TrimSpace(e.Result)
	if len(raw) == 0 {
		return nil, false
	}
	switch raw[0] {
	case '{':
		var m map[string]any
		if json.Unmarshal(raw, &m) != nil {
			return nil, false
		}
		return m, true
	case '[':
		var list []map[string]any
		if json.Unmarshal(raw, &list) != nil || len(list) == 0 {
			return nil, false
		}
		return list[0], true
	}
	return nil, false
}

// resultObjects returns Result as a list of objects; a single object becomes
// a one-element list.
func (e envelope) resultObjects() ([]map[string]any, bool) {
	raw := bytes.TrimSpace(e.Result)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true
	}
	if raw[0] == '[' {
		var list []map[string]any
		if json.Unmarshal(raw, &list) != nil {
			return nil, false
		}
		return list, true
	}
	obj, ok := e.resultObject()
	if !ok {
		return nil, false
	}
	return []map[string]any{obj}, true
}

// shape recognizes one success layout and extracts the file code.
type shape struct {
	name  string
	match func(env envelope) (string, bool)
}

// uploadShapes are tried in order; the first match wins.
//
//	{"status":200,"result":[{"filecode":"..."}]}   file upload
//	{"status":200,"result":{"filecode":"..."}}     url upload
//	{"msg":"OK","result":{"filecode":"..."}}       url upload, older servers
var uploadShapes = []shape{
	{name: "status-list", match: func(env envelope) (string, bool) {
		if env.statusCode() != 200 || !isList(env.Result) {
			return "", false
		}
		return fileCode(env)
	}},
	{name: "status-object", match: func(env envelope) (string, bool) {
		if env.statusCode() != 200 || isList(env.Result) {
			return "", false
		}
		return fileCode(env)
	}},
	{name: "msg-ok", match: func(env envelope) (string, bool) {
		if !strings.EqualFold(strings.TrimSpace(env.Msg), "OK") {
			return "", false
		}
		return fileCode(env)
	}},
}

func isList(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func fileCode(env envelope) (string, bool) {
	obj, ok := env.resultObject()
	if !ok {
		return "", false
	}
	code := firstString(obj, "filecode", "file_code")
	return code, code != ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseUpload maps an HTTP 2xx upload body to a file code.
func parseUpload(op string, status int, body []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", malformedErr(op, status, string(body), err)
	}
	for _, s := range uploadShapes {
		if code, ok := s.match(env); ok {
			return code, nil
		}
	}
	if !env.ok() {
		msg := env.Msg
		if msg == "" {
			msg = string(body)
		}
		return "", rejectedErr(op, status, msg)
	}
	return "", malformedErr(op, status, string(body), nil)
}

// parseUploadServer reads {"msg":"OK","result":"https://..."}.
func parseUploadServer(body []byte) (string, bool) {
	var env envelope
	if json.Unmarshal(body, &env) != nil || !env.ok() {
		return "", false
	}
	var u string
	if json.Unmarshal(env.Result, &u) != nil {
		return "", false
	}
	u = strings.TrimSpace(u)
	return u, strings.HasPrefix(u, "http")
}

// parseMetadata accepts a result object or a one-element list of them.
func parseMetadata(op string, status int, body []byte) (Metadata, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Metadata{}, malformedErr(op, status, string(body), err)
	}
	if !env.ok() {
		return Metadata{}, rejectedErr(op, status, env.Msg)
	}
	obj, ok := env.resultObject()
	if !ok {
		return Metadata{}, malformedErr(op, status, string(body), nil)
	}
	return Metadata{
		Title:        firstString(obj, "file_title", "title"),
		ThumbnailURL: firstString(obj, "player_img", "thumbnail"),
	}, nil
}

// parseEncodings reads the encoding queue of one file. An empty result means
// nothing is queued: the file is done or was never queued.
func parseEncodings(op string, status int, body []byte) ([]Encoding, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformedErr(op, status, string(body), err)
	}
	if !env.ok() {
		return nil, rejectedErr(op, status, env.Msg)
	}
	objs, ok := env.resultObjects()
	if !ok {
		return nil, malformedErr(op, status, string(body), nil)
	}
	out := make([]Encoding, 0, len(objs))
	for _, o := range objs {
		e := Encoding{
			Quality: firstString(o, "quality"),
			Status:  firstString(o, "status"),
		}
		if p, err := strconv.ParseFloat(firstString(o, "progress"), 64); err == nil {
			e.Progress = int(p)
		}
		out = append(out, e)
	}
	return out, nil
}
