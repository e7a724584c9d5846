package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BranchIntl/jobworker/errors"
)

func TestNew(t *testing.T) {
	j, err := New("payment", map[string]any{"amount": 42})
	require.NoError(t, err)

	assert.NotEmpty(t, j.GetKey())
	assert.Equal(t, "payment", j.GetType())
	assert.JSONEq(t, `{"amount":42}`, string(j.GetPayload().Variables))

	other, err := New("payment", nil)
	require.NoError(t, err)
	assert.NotEqual(t, j.GetKey(), other.GetKey())
	assert.Empty(t, other.GetPayload().Variables)
}

func TestNew_UnmarshalableVariables(t *testing.T) {
	_, err := New("payment", map[string]any{"ch": make(chan int)})

	var serErr *errors.SerializationError
	assert.ErrorAs(t, err, &serErr)
}

func TestActivated(t *testing.T) {
	j, err := New("payment", nil)
	require.NoError(t, err)

	now := time.Now()
	activated := Activated(j, "payment[host][1]", now, 30*time.Second)

	md := activated.GetMetadata()
	assert.Equal(t, j.GetKey(), activated.GetKey())
	assert.Equal(t, "payment[host][1]", md.Worker)
	assert.Equal(t, now, md.ActivatedAt)
	assert.Equal(t, now.Add(30*time.Second), md.Deadline)

	// the original job is untouched
	assert.Empty(t, j.GetMetadata().Worker)
}

func TestDecodeVariables(t *testing.T) {
	j, err := New("payment", map[string]any{"amount": 42, "currency": "EUR"})
	require.NoError(t, err)

	var vars struct {
		Amount   int    `json:"amount"`
		Currency string `json:"currency"`
	}
	require.NoError(t, DecodeVariables(j, &vars))
	assert.Equal(t, 42, vars.Amount)
	assert.Equal(t, "EUR", vars.Currency)

	empty, err := New("payment", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, DecodeVariables(empty, &vars), errors.ErrInvalidPayload)
}

func TestSelectVariables(t *testing.T) {
	j, err := New("payment", map[string]any{"a": 1, "secret": "x", "b": []int{2}})
	require.NoError(t, err)

	selected := SelectVariables(j, []string{"a", "b", "missing"})

	assert.JSONEq(t, `{"a":1,"b":[2]}`, string(selected.GetPayload().Variables))
	assert.Equal(t, j.GetMetadata(), selected.GetMetadata())
	assert.JSONEq(t, `{"a":1,"secret":"x","b":[2]}`, string(j.GetPayload().Variables))
}

func TestSelectVariables_Unchanged(t *testing.T) {
	object, err := New("payment", map[string]any{"a": 1})
	require.NoError(t, err)
	list, err := New("payment", []int{1, 2})
	require.NoError(t, err)
	empty, err := New("payment", nil)
	require.NoError(t, err)

	assert.Same(t, object, SelectVariables(object, nil))
	assert.Same(t, list, SelectVariables(list, []string{"a"}))
	assert.Same(t, empty, SelectVariables(empty, []string{"a"}))
}

func TestEncodeVariables(t *testing.T) {
	raw, err := EncodeVariables(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = EncodeVariables(map[string]int{"total": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":3}`, string(raw))

	raw, err = EncodeVariables(json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(raw))

	_, err = EncodeVariables(json.RawMessage(`{broken`))
	assert.ErrorIs(t, err, errors.ErrInvalidPayload)

	_, err = EncodeVariables(make(chan int))
	var serErr *errors.SerializationError
	assert.ErrorAs(t, err, &serErr)
}

func TestOutcome(t *testing.T) {
	assert.True(t, Succeeded().IsSuccess())
	assert.Equal(t, "success", Succeeded().Kind.String())

	failed := Failed("paymentError", "card declined")
	assert.False(t, failed.IsSuccess())
	assert.Equal(t, "failure", failed.Kind.String())
	assert.Equal(t, "paymentError", failed.ErrorCode)
	assert.Equal(t, "card declined", failed.ErrorMessage)

	assert.Equal(t, "none", Outcome{}.Kind.String())
}
