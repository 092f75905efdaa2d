package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/batepapo/clients/go/batepapo"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want batepapo.MessageInput
		ok   bool
	}{
		{"hello all", batepapo.MessageInput{To: batepapo.Broadcast, Text: "hello all", Type: batepapo.TypeMessage}, true},
		{"/to Bob psst there", batepapo.MessageInput{To: "Bob", Text: "psst there", Type: batepapo.TypePrivateMessage}, true},
		{"/to Bob", batepapo.MessageInput{}, false},
		{"   ", batepapo.MessageInput{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseLine(tt.line)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}
