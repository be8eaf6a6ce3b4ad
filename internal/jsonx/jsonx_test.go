package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fence after prose", "Here you go:\n```json\n{\"a\":1}\n```\nThanks", `{"a":1}`},
		{"prose around", `Sure! {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"trailing comma object", `{"a":1,}`, `{"a":1}`},
		{"trailing comma array", `{"a":[1,2,
		]}`, "{\"a\":[1,2\n\t\t]}"},
		{"brace in string", `{"a":"}{"} tail}`, `{"a":"}{"}`},
		{"newline in string", "{\"a\":\"x\ny\"}", `{"a":"x y"}`},
		{"control char", "{\"a\":1\x01}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestClean_ParsesRepairedText(t *testing.T) {
	raw := "```json\n{\n  \"name\": \"Acme Oy\",\n  \"employees\": 12,\n}\n```"
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(Clean(raw)), &out))
	assert.Equal(t, "Acme Oy", out["name"])
}

func TestBalanced(t *testing.T) {
	s := `x = {"a":[1,{"b":"]"}]}; y`
	end, ok := Balanced(s, 4)
	require.True(t, ok)
	assert.Equal(t, `{"a":[1,{"b":"]"}]}`, s[4:end])

	_, ok = Balanced(`{"a":1`, 0)
	assert.False(t, ok)
	_, ok = Balanced(`abc`, 0)
	assert.False(t, ok)
}

func TestOuterObject_NoObject(t *testing.T) {
	_, ok := OuterObject("no json here")
	assert.False(t, ok)
}

func TestRepair_KeepsCommaInString(t *testing.T) {
	assert.Equal(t, `{"a":"x,}"}`, Repair(`{"a":"x,}"}`))
}
