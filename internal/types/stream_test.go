package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStream(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Stream
		wantErr bool
	}{
		{name: "hub", input: "hub", want: StreamHub},
		{name: "controller", input: "controller", want: StreamController},
		{name: "mixed case with spaces", input: "  Controller ", want: StreamController},
		{name: "invalid", input: "tron", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStream(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStreamSelection(t *testing.T) {
	sel, err := ParseStreamSelection("")
	require.NoError(t, err)
	require.Equal(t, SelectAll, sel)
	require.True(t, sel.Includes(StreamHub))
	require.True(t, sel.Includes(StreamController))

	sel, err = ParseStreamSelection("HUB")
	require.NoError(t, err)
	require.True(t, sel.Includes(StreamHub))
	require.False(t, sel.Includes(StreamController))

	_, err = ParseStreamSelection("both")
	require.Error(t, err)
}

func TestStreamUsesTronAddresses(t *testing.T) {
	require.False(t, StreamHub.UsesTronAddresses())
	require.True(t, StreamController.UsesTronAddresses())
}
