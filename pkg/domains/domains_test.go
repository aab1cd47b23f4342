package domains

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupFunc func(ctx context.Context, name string) ([]string, error)

func (f lookupFunc) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return f(ctx, name)
}

func TestCheck(t *testing.T) {
	c := NewChallenge("jane.dev")
	assert.Equal(t, "_easypage-challenge.jane.dev", c.RecordName)
	assert.Len(t, c.Token, tokenLength)

	records := map[string][]string{
		c.RecordName: {"unrelated", `"` + c.Value + `"`},
	}
	v := NewVerifier(lookupFunc(func(_ context.Context, name string) ([]string, error) {
		if r, ok := records[name]; ok {
			return r, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}))

	ok, _, err := v.Check(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, reason, err := v.Check(context.Background(), ChallengeFor("jane.dev", "other-token"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "no value matches")

	ok, reason, err = v.Check(context.Background(), NewChallenge("nobody.dev"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "not found")
}

func TestCheckLookupFailure(t *testing.T) {
	v := NewVerifier(lookupFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("timeout")
	}))
	_, _, err := v.Check(context.Background(), NewChallenge("jane.dev"))
	assert.Error(t, err)
}
