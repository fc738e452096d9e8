package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type enrollData struct {
	Name  string `json:"name,omitempty"`
	Grade string `json:"grade,omitempty"`
}

func TestContextActive(t *testing.T) {
	cases := []struct {
		name string
		c    Context
		want bool
	}{
		{"nil", nil, false},
		{"empty", Context{}, false},
		{"full envelope", Context{"handler": "students", "flow": "create_student", "step": "enter_name"}, true},
		{"missing step", Context{"handler": "students", "flow": "create_student"}, false},
		{"non-string values", Context{"handler": 7, "flow": true, "step": []string{"x"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.c.Active())
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Envelope{Handler: "students", Flow: "create_student", Step: "enter_grade"}
	c, err := Encode(env, enrollData{Name: "Asha Rao"})
	require.NoError(t, err)
	require.True(t, c.Active())
	require.Equal(t, "students", c.Handler())
	require.Equal(t, "create_student", c.Flow())
	require.Equal(t, "enter_grade", c.Step())

	var data enrollData
	got, err := Decode(c, &data)
	require.NoError(t, err)
	require.Equal(t, env, got)
	require.Equal(t, "Asha Rao", data.Name)
	require.Empty(t, data.Grade)
}

func TestEncodeProtectsEnvelopeKeys(t *testing.T) {
	type sneaky struct {
		Handler string `json:"handler"`
		Extra   string `json:"extra"`
	}
	c, err := Encode(Envelope{Handler: "fees", Flow: "record_payment", Step: "confirm"},
		sneaky{Handler: "students", Extra: "kept"})
	require.NoError(t, err)
	require.Equal(t, "fees", c.Handler())
	require.Equal(t, "kept", c["extra"])
}

func TestEncodeNilData(t *testing.T) {
	c, err := Encode(Envelope{Handler: "h", Flow: "f", Step: "s"}, nil)
	require.NoError(t, err)
	require.Len(t, c, 3)
}

func TestEncodeRejectsNonObjectData(t *testing.T) {
	_, err := Encode(Envelope{Handler: "h", Flow: "f", Step: "s"}, "just a string")
	require.Error(t, err)
}

func TestDecodeEnvelopeOnly(t *testing.T) {
	env, err := Decode(Context{"handler": "fees", "flow": "record_payment", "step": "confirm"}, nil)
	require.NoError(t, err)
	require.Equal(t, "fees", env.Handler)
}

func TestIsCancellation(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"cancel", true},
		{"  CANCEL  ", true},
		{"Never Mind", true},
		{"stop", true},
		{"quit", true},
		{"exit", true},
		{"please cancel", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsCancellation(tc.msg); got != tc.want {
			t.Fatalf("IsCancellation(%q)=%v want %v", tc.msg, got, tc.want)
		}
	}
}
