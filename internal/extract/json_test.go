package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Verdict string `json:"verdict"`
}

func TestJSON(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"plain":  `{"verdict":"pass"}`,
		"fenced": "Here you go:\n```json\n{\"verdict\":\"pass\"}\n```\nThanks",
		"braces": `Sure! {"verdict":"pass"} hope that helps`,
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var p payload
			require.NoError(t, JSON(input, &p))
			assert.Equal(t, "pass", p.Verdict)
		})
	}
}

func TestJSONRejectsGarbage(t *testing.T) {
	t.Parallel()

	var p payload
	err := JSON("no structured data here", &p)
	assert.True(t, errors.Is(err, ErrNoJSON))

	err = JSON("   ", &p)
	assert.ErrorIs(t, err, ErrNoJSON)
}
