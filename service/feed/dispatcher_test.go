package feed

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_Decode(t *testing.T) {
	d := NewDispatcher(0)

	cases := []struct {
		name    string
		frame   Frame
		kind    UnitKind
		payload string
	}{
		{"follow", Frame{Type: FrameFollow, Payload: "alice"}, UnitFollow, "alice"},
		{"follow strips one at", Frame{Type: FrameFollow, Payload: "@alice"}, UnitFollow, "alice"},
		{"follow keeps second at", Frame{Type: FrameFollow, Payload: "@@alice"}, UnitFollow, "@alice"},
		{"follow without target", Frame{Type: FrameFollow, Payload: " @ "}, UnitMalformed, ""},
		{"send", Frame{Type: FrameSend, Payload: "hi", Timestamp: 7}, UnitPublish, "hi"},
		{"send at limit", Frame{Type: FrameSend, Payload: strings.Repeat("x", DefaultMaxBodyBytes)}, UnitPublish, strings.Repeat("x", DefaultMaxBodyBytes)},
		{"send over limit", Frame{Type: FrameSend, Payload: strings.Repeat("x", DefaultMaxBodyBytes+1)}, UnitMalformed, ""},
		{"unknown", Frame{Type: "PING"}, UnitUnknown, ""},
		{"login after handshake", Frame{Type: FrameLogin, Payload: "bob"}, UnitUnknown, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.frame
			u := d.Decode(&f)
			assert.Equal(t, tc.kind, u.Kind)
			assert.Equal(t, tc.payload, u.Payload)
		})
	}
}

func TestDispatcher_ErrorsCarryCodes(t *testing.T) {
	d := NewDispatcher(4)
	u := d.Decode(&Frame{Type: FrameSend, Payload: "12345"})
	require.Error(t, u.Err)
	assert.True(t, errors.Is(u.Err, ErrMalformedUnit))

	u = d.Decode(&Frame{Type: "NOPE"})
	assert.True(t, errors.Is(u.Err, ErrUnknownCommand))
}

func TestDispatcher_SendKeepsTimestamp(t *testing.T) {
	u := NewDispatcher(0).Decode(&Frame{Type: FrameSend, Payload: "hello", Timestamp: 100})
	assert.Equal(t, int64(100), u.Timestamp)
}

func TestParseFrameJSON(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"type":"SEND","seqn":3,"timestamp":100,"payload":"hello","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, FrameSend, f.Type)
	assert.Equal(t, uint32(3), f.Seqn)
	assert.Equal(t, "hello", f.Payload)

	_, err = ParseFrameJSON([]byte(`{`))
	assert.Error(t, err)
}
