package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTemplate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []AlertContent
	}{
		{"plain text", "no fields", []AlertContent{Text("no fields")}},
		{"single field", "$user", []AlertContent{Field("user")}},
		{
			"interleaved",
			"User $user.name logged in from $source.ip.",
			[]AlertContent{Text("User "), Field("user.name"), Text(" logged in from "), Field("source.ip"), Text(".")},
		},
		{"escaped dollar", "cost $$5", []AlertContent{Text("cost $5")}},
		{"lone dollar", "a $ b", []AlertContent{Text("a $ b")}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTemplate(tt.in))
		})
	}
}
