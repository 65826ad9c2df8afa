package audit_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirk1998/secure-auth/internal/audit"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"newPassword", true},
		{"PASSWORD_HASH", true},
		{"sessionToken", true},
		{"Authorization", true},
		{"api_key", true},
		{"API-Key", true},
		{"client.secret", true},
		{"refresh token", true},
		{"reason", false},
		{"username", false},
		{"attempts", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, audit.IsSensitiveKey(tt.key))
		})
	}
}

func TestSanitize_RedactsAtEveryDepth(t *testing.T) {
	in := map[string]any{
		"reason":   "invalid_password",
		"password": "hunter2",
		"request": map[string]any{
			"sessionToken": "abc",
			"attempt":      3,
			"headers": map[string]string{
				"Authorization": "Bearer xyz",
				"Accept":        "text/html",
			},
			"history": []any{
				map[string]any{"PassWord": "old", "at": "yesterday"},
				"plain",
			},
		},
	}

	out := audit.Sanitize(in)

	assert.Equal(t, "invalid_password", out["reason"])
	assert.Equal(t, audit.Redacted, out["password"])

	req, ok := out["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, req["sessionToken"])
	assert.Equal(t, 3, req["attempt"])

	headers, ok := req["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, headers["Authorization"])
	assert.Equal(t, "text/html", headers["Accept"])

	history, ok := req["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 2)
	first, ok := history[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, first["PassWord"])
	assert.Equal(t, "yesterday", first["at"])
	assert.Equal(t, "plain", history[1])

	assert.Equal(t, "hunter2", in["password"], "input must not be modified")
	assert.Equal(t, "abc", in["request"].(map[string]any)["sessionToken"])
}

func TestSanitize_RedactsWholeSensitiveSubtree(t *testing.T) {
	out := audit.Sanitize(map[string]any{
		"tokens": map[string]any{"access": "a", "refresh": "r"},
	})
	assert.Equal(t, audit.Redacted, out["tokens"])
}

func TestSanitize_Nil(t *testing.T) {
	assert.Nil(t, audit.Sanitize(nil))
}

func TestSanitize_StopsOnCycles(t *testing.T) {
	cyclic := map[string]any{"name": "loop"}
	cyclic["self"] = cyclic

	out := audit.Sanitize(cyclic)
	assert.Equal(t, "loop", out["name"])
	assert.Equal(t, audit.Redacted, out["self"])
}

func TestSanitize_SharedSubtreeIsNotACycle(t *testing.T) {
	shared := map[string]any{"ok": true}
	out := audit.Sanitize(map[string]any{"a": shared, "b": shared})
	assert.Equal(t, map[string]any{"ok": true}, out["a"])
	assert.Equal(t, map[string]any{"ok": true}, out["b"])
}

type formValues map[string][]string

func TestSanitize_RedactsInsideArbitraryMapAndSliceTypes(t *testing.T) {
	in := map[string]any{
		"headers": http.Header{
			"Authorization": {"Bearer secret-xyz"},
			"Accept":        {"text/html"},
		},
		"request": map[string]map[string]string{
			"form": {"password": "hunter2", "user": "alice"},
		},
		"named":   formValues{"client_secret": {"s3"}, "scope": {"read"}},
		"batches": [][]map[string]string{{{"token": "t1", "id": "1"}}},
		"pointer": &map[string]string{"apiKey": "k", "name": "n"},
	}

	out := audit.Sanitize(in)

	headers, ok := out["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, headers["Authorization"])
	assert.Equal(t, []any{"text/html"}, headers["Accept"])

	req, ok := out["request"].(map[string]any)
	require.True(t, ok)
	form, ok := req["form"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, form["password"])
	assert.Equal(t, "alice", form["user"])

	named, ok := out["named"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, named["client_secret"])
	assert.Equal(t, []any{"read"}, named["scope"])

	batches, ok := out["batches"].([]any)
	require.True(t, ok)
	inner, ok := batches[0].([]any)
	require.True(t, ok)
	item, ok := inner[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, item["token"])
	assert.Equal(t, "1", item["id"])

	ptr, ok := out["pointer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, audit.Redacted, ptr["apiKey"])
	assert.Equal(t, "n", ptr["name"])

	assert.Equal(t, []string{"Bearer secret-xyz"}, in["headers"].(http.Header)["Authorization"], "input must not be modified")
	assert.NotContains(t, fmt.Sprint(out), "secret-xyz")
	assert.NotContains(t, fmt.Sprint(out), "hunter2")
}

func TestSanitize_KeepsByteSlicesAndScalars(t *testing.T) {
	out := audit.Sanitize(map[string]any{"raw": []byte("ab"), "count": 2, "nothing": nil})
	assert.Equal(t, []byte("ab"), out["raw"])
	assert.Equal(t, 2, out["count"])
	assert.Nil(t, out["nothing"])
}

func TestSanitize_StopsOnSliceCycles(t *testing.T) {
	loop := make([]any, 2)
	loop[0] = "x"
	loop[1] = loop

	out := audit.Sanitize(map[string]any{"loop": loop})
	got, ok := out["loop"].([]any)
	require.True(t, ok)
	assert.Equal(t, "x", got[0])
	assert.Equal(t, audit.Redacted, got[1])
}
