package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeNamedAndPositional(t *testing.T) {
	for name, raw := range map[string]string{
		"named":      `{"from": "a", "to": "b", "amount": "100"}`,
		"positional": `["a", "b", "100"]`,
	} {
		t.Run(name, func(t *testing.T) {
			var from, to, amount string
			require.NoError(t, Decode(json.RawMessage(raw), Arg("from", &from), Arg("to", &to), Arg("amount", &amount)))
			require.Equal(t, "a", from)
			require.Equal(t, "b", to)
			require.Equal(t, "100", amount)
		})
	}
}

func TestDecodeScalar(t *testing.T) {
	var who string
	require.NoError(t, Decode(json.RawMessage(`"0xaa"`), Arg("who", &who)))
	require.Equal(t, "0xaa", who)

	var a, b string
	require.Error(t, Decode(json.RawMessage(`"0xaa"`), Arg("a", &a), Arg("b", &b)))
}

func TestDecodeOptionalAndMissing(t *testing.T) {
	var sub, data string
	require.NoError(t, Decode(json.RawMessage(`{"sub": "s"}`), Arg("sub", &sub), OptArg("data", &data)))
	require.Equal(t, "s", sub)
	require.Empty(t, data)

	require.NoError(t, Decode(json.RawMessage(`["s"]`), Arg("sub", &sub), OptArg("data", &data)))
	require.NoError(t, Decode(json.RawMessage(`{"sub": "s", "data": null}`), Arg("sub", &sub), OptArg("data", &data)))

	require.Error(t, Decode(json.RawMessage(`{"data": "d"}`), Arg("sub", &sub)))
	require.Error(t, Decode(json.RawMessage(`{"sub": null}`), Arg("sub", &sub)))
	require.Error(t, Decode(nil, Arg("sub", &sub)))
	require.NoError(t, Decode(nil))
}

func TestDecodeTypeMismatch(t *testing.T) {
	var n int
	err := Decode(json.RawMessage(`{"n": "x"}`), Arg("n", &n))
	require.ErrorContains(t, err, `field "n"`)
}
